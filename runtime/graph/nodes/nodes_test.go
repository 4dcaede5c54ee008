package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/runtime/collaborators"
	"github.com/siteforge-ai/core/runtime/collaborators/fakes"
	"github.com/siteforge-ai/core/runtime/graph"
	"github.com/siteforge-ai/core/runtime/graph/engine/inmem"
	checkpointmem "github.com/siteforge-ai/core/features/graph/checkpoint/memory"
	memorystore "github.com/siteforge-ai/core/features/event/memory"
	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/run"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	return New(Deps{
		Classifier: fakes.Classifier{Keywords: map[string]string{"invite": "invitation"}, Default: "landing"},
		LLM:        &fakes.LLMProvider{},
		Renderer:   fakes.HTMLRenderer{},
		Workspace:  fakes.NewWorkspace(),
		DataStore:  fakes.NewDataStore(),
	})
}

func TestBuilder_BriefDefaultsProductTypeFromClassifier(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	out, err := b.brief(context.Background(), graph.State{UserInput: "plan my invite party"})
	require.NoError(t, err)
	require.Equal(t, "invitation", out.ProductDoc["product_type"])
}

func TestBuilder_BriefFallsBackToDefaultProductTypeOnClassifyError(t *testing.T) {
	t.Parallel()

	b := New(Deps{Classifier: fakes.Classifier{}})
	out, err := b.brief(context.Background(), graph.State{UserInput: "anything"})
	require.NoError(t, err)
	require.Equal(t, defaultProductType, out.ProductDoc["product_type"])
}

func TestBuilder_GenerateDefaultsToHomePage(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	out, err := b.generate(context.Background(), graph.State{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"home"}, out.Pages)
	require.Contains(t, out.DataModel, "home")
	require.Contains(t, out.PageSchemas, "home")
}

func TestBuilder_RefineGateInterruptsOnceThenPassesThroughOnResume(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	state := graph.State{RunID: "run-1", Pages: []string{"home"}}

	_, err := b.refineGate(context.Background(), state)
	require.Error(t, err)

	out, err := b.refineGate(context.Background(), state)
	require.NoError(t, err)
	require.Empty(t, out.UserFeedback)
}

func TestBuilder_RefineGateSkipsInterruptOnVerifyFailureLoopback(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	state := graph.State{
		RunID:         "run-1",
		VerifyBlocked: true,
		VerifyReport:  map[string]any{"passed": false, "errors": map[string]any{"home": "missing field"}},
	}

	out, err := b.refineGate(context.Background(), state)
	require.NoError(t, err)
	require.Contains(t, out.UserFeedback, "home")
}

func TestBuilder_VerifyReportsPassForPermissiveSchema(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	state := graph.State{
		PageSchemas: map[string]any{"home": map[string]any{"type": "object"}},
		DataModel:   map[string]any{"home": map[string]any{}},
	}
	out, err := b.verify(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, true, out.VerifyReport["passed"])
	require.False(t, out.VerifyBlocked)
}

func TestBuilder_RenderMarksBuildCompletedAndClearsReviewedMarker(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	state := graph.State{RunID: "run-1", DataModel: map[string]any{"home": map[string]any{}}}

	b.reviewed.markIfAbsent("run-1")
	out, err := b.render(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, "completed", out.BuildStatus)
	require.True(t, b.reviewed.markIfAbsent("run-1"))
}

func TestBuilder_CallToolRejectsWithoutMCPClient(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	_, err := b.CallTool(context.Background(), "srv", "tool", nil)
	require.Error(t, err)
}

// TestBuilder_BuildWalksFullGraph exercises every node together through the
// real Graph Executor, confirming the wiring graph.Build expects lines up
// with what Builder.Build registers.
func TestBuilder_BuildWalksFullGraph(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	g := b.Build(false, true)

	eng := inmem.New()
	cp := checkpointmem.New()
	cancel := run.NewCancelSet()
	em := emitter.New(memorystore.New(), nil)
	exec, err := graph.NewExecutor(context.Background(), g, eng, cp, cancel, em, nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), "sess-1", "run-1", "thread-1", graph.State{
		RunID: "run-1", UserInput: "a landing page",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Interrupt)

	result, err = exec.Resume(context.Background(), "sess-1", "run-1", "thread-1", "")
	require.NoError(t, err)
	require.Nil(t, result.Interrupt)
	require.True(t, result.Done)
	require.Equal(t, "completed", result.State.BuildStatus)
}

var _ collaborators.Classifier = fakes.Classifier{}
