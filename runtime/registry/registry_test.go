package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
common:
  - name: nav
    description: top navigation bar
    props:
      - name: links
        type: array
        required: true
product_types:
  landing:
    - name: hero
      description: above-the-fold hero section
      tags: [marketing]
      props:
        - name: headline
          type: string
          required: true
        - name: cta_label
          type: string
  card:
    - name: recipient_block
      description: invitation recipient name block
`

func TestParse_ComponentsForMergesCommonAndProductSpecific(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	landing := reg.ComponentsFor("landing")
	require.Len(t, landing, 2)
	names := []string{landing[0].Name, landing[1].Name}
	require.ElementsMatch(t, []string{"nav", "hero"}, names)
}

func TestParse_ComponentsForUnknownProductTypeReturnsOnlyCommon(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, reg.ComponentsFor("blog"), 1)
}

func TestLookup_FindsComponentByName(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	hero, ok := reg.Lookup("landing", "hero")
	require.True(t, ok)
	require.Equal(t, "above-the-fold hero section", hero.Description)
	require.True(t, hero.Props[0].Required)

	_, ok = reg.Lookup("landing", "does_not_exist")
	require.False(t, ok)
}

func TestAsDocument_ShapesComponentRegistryDocument(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	doc := reg.AsDocument("card")
	components, ok := doc["components"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, components, 2)
}

func TestParse_InvalidYAMLReturnsError(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("not: valid: yaml: : ["))
	require.Error(t, err)
}
