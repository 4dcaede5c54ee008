package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPages_AllValid(t *testing.T) {
	t.Parallel()

	schemas := map[string]any{
		"index": map[string]any{
			"type":     "object",
			"required": []any{"title"},
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
			},
		},
	}
	data := map[string]any{
		"index": map[string]any{"title": "Welcome"},
	}

	report, err := Pages(schemas, data)
	require.NoError(t, err)
	require.True(t, report.Passed)
	require.Empty(t, report.Errors)
}

func TestPages_MissingRequiredFieldFails(t *testing.T) {
	t.Parallel()

	schemas := map[string]any{
		"index": map[string]any{
			"type":     "object",
			"required": []any{"title"},
		},
	}
	data := map[string]any{
		"index": map[string]any{},
	}

	report, err := Pages(schemas, data)
	require.NoError(t, err)
	require.False(t, report.Passed)
	require.Contains(t, report.Errors, "index")
}

func TestPages_MissingDataModelEntryFails(t *testing.T) {
	t.Parallel()

	schemas := map[string]any{"about": map[string]any{"type": "object"}}
	report, err := Pages(schemas, map[string]any{})
	require.NoError(t, err)
	require.False(t, report.Passed)
	require.Equal(t, "no data_model entry for page", report.Errors["about"])
}

func TestPages_InvalidSchemaReturnsError(t *testing.T) {
	t.Parallel()

	schemas := map[string]any{"index": map[string]any{"type": "not-a-real-type"}}
	_, err := Pages(schemas, map[string]any{"index": map[string]any{}})
	require.Error(t, err)
}
