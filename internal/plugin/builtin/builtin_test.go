package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geneforge/internal/plugin"
	"geneforge/internal/types"
)

func TestRegisterAllWithoutCredentials(t *testing.T) {
	r := plugin.NewRegistry(nil)
	RegisterAll(r)
	report := r.Discover()

	// The remote annotator declares a credential requirement; every
	// other builtin loads.
	assert.ElementsMatch(t, []string{"gc_content", "responder", "sequence_normalizer"}, report.Loaded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "remote_annotator", report.Failures[0].Name)
	assert.Contains(t, report.Failures[0].Reason, CredentialAnnotatorKey)
}

func TestRegisterAllWithCredentials(t *testing.T) {
	r := plugin.NewRegistry(map[string]string{
		CredentialAnnotatorKey: "key-123",
		CredentialAnnotatorURL: "http://annotator.internal/v1/annotate",
	})
	RegisterAll(r)
	report := r.Discover()

	assert.Empty(t, report.Failures)
	assert.Len(t, r.Active(), 4)
}

func TestSequenceNormalizer(t *testing.T) {
	n := &SequenceNormalizer{}

	out, err := n.Evaluate(context.Background(), "ac gt\nTT ")
	require.NoError(t, err)
	assert.Equal(t, "ACGTTT", out)

	// Annotation suffix survives untouched.
	out, err = n.Evaluate(context.Background(), "acgt[gc=0.500]")
	require.NoError(t, err)
	assert.Equal(t, "ACGT[gc=0.500]", out)

	_, err = n.Execute(context.Background(), "anything", nil, nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownMethod)
}

func TestGCContentEvaluate(t *testing.T) {
	g := &GCContent{}
	out, err := g.Evaluate(context.Background(), "GGCC")
	require.NoError(t, err)
	assert.Equal(t, "GGCC[gc=1.000]", out)

	out, err = g.Evaluate(context.Background(), "ATAT")
	require.NoError(t, err)
	assert.Equal(t, "ATAT[gc=0.000]", out)
}

func TestGCContentExecute(t *testing.T) {
	g := &GCContent{}
	st := types.NewSymbolTable()

	result, err := g.Execute(context.Background(), "gc_content", map[string]any{"sequence": "ACGT"}, st)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.(float64), 1e-9)

	stored, ok := st.Get("gc_content")
	require.True(t, ok)
	assert.InDelta(t, 0.5, stored.(float64), 1e-9)
}

func TestGCContentExecutePreconditions(t *testing.T) {
	g := &GCContent{}

	_, err := g.Execute(context.Background(), "fold", nil, nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownMethod)

	_, err = g.Execute(context.Background(), "gc_content", map[string]any{}, nil)
	assert.ErrorIs(t, err, plugin.ErrMissingParameter)

	_, err = g.Execute(context.Background(), "gc_content", map[string]any{"sequence": 42}, nil)
	assert.Error(t, err)
}

func TestGCContentEmptySequence(t *testing.T) {
	assert.Zero(t, gcFraction(""))
	assert.Zero(t, gcFraction("xyz--"))
}

func TestResponderTableOrder(t *testing.T) {
	table := []Response{
		Keyword("mutation", "[first]"),
		Keyword("mutation point", "[second, shadowed]"),
	}
	r := NewResponder(table)

	out, err := r.Evaluate(context.Background(), "observed mutation point")
	require.NoError(t, err)
	assert.Equal(t, "observed mutation point[first]", out, "first matching entry wins")
}

func TestResponderNoMatch(t *testing.T) {
	r := NewResponder(DefaultResponses)
	out, err := r.Evaluate(context.Background(), "nothing relevant")
	require.NoError(t, err)
	assert.Equal(t, "nothing relevant", out)
}

func TestResponderDeterministic(t *testing.T) {
	r := NewResponder(DefaultResponses)
	first, _ := r.Evaluate(context.Background(), "please simulate a crispr run")
	for i := 0; i < 20; i++ {
		out, _ := r.Evaluate(context.Background(), "please simulate a crispr run")
		assert.Equal(t, first, out)
	}
}

func TestResponderExecute(t *testing.T) {
	r := NewResponder(DefaultResponses)

	reply, err := r.Execute(context.Background(), "respond", map[string]any{"text": "crispr edit"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "[responder:crispr-workflow]", reply)

	_, err = r.Execute(context.Background(), "respond", map[string]any{}, nil)
	assert.ErrorIs(t, err, plugin.ErrMissingParameter)

	_, err = r.Execute(context.Background(), "other", nil, nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownMethod)
}

// annotatorTestServer fakes the annotation service: it checks the
// bearer token and echoes an annotation derived from the sequence.
func annotatorTestServer(t *testing.T, wantKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+wantKey {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		var req struct {
			Sequence string `json:"sequence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"annotation": "annotated:" + req.Sequence,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteAnnotatorRequiresCredentials(t *testing.T) {
	_, err := NewRemoteAnnotator(nil)
	assert.ErrorIs(t, err, plugin.ErrCredentialMissing)

	_, err = NewRemoteAnnotator(map[string]string{CredentialAnnotatorKey: "k"})
	assert.ErrorIs(t, err, plugin.ErrCredentialMissing)
}

func TestRemoteAnnotatorEvaluate(t *testing.T) {
	srv := annotatorTestServer(t, "k")
	capability, err := NewRemoteAnnotator(map[string]string{
		CredentialAnnotatorKey: "k",
		CredentialAnnotatorURL: srv.URL,
	})
	require.NoError(t, err)

	out, err := capability.Evaluate(context.Background(), "seq")
	require.NoError(t, err)
	assert.Equal(t, "seq[remote:annotated:seq]", out)
}

func TestRemoteAnnotatorRejectedKey(t *testing.T) {
	srv := annotatorTestServer(t, "right-key")
	capability, err := NewRemoteAnnotator(map[string]string{
		CredentialAnnotatorKey: "wrong-key",
		CredentialAnnotatorURL: srv.URL,
	})
	require.NoError(t, err)

	_, err = capability.Evaluate(context.Background(), "seq")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRemoteAnnotatorHonorsCancellation(t *testing.T) {
	srv := annotatorTestServer(t, "k")
	capability, err := NewRemoteAnnotator(map[string]string{
		CredentialAnnotatorKey: "k",
		CredentialAnnotatorURL: srv.URL,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = capability.Evaluate(ctx, "seq")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuiltinsThroughPipeline(t *testing.T) {
	r := plugin.NewRegistry(nil)
	RegisterAll(r)
	r.Discover()

	// Keep only the normalizer and gc annotator for a stable pipeline.
	require.NoError(t, r.Disable("responder"))

	d := plugin.NewDispatcher(r, time.Second)
	out, annotations := d.Run(context.Background(), "ac gt")

	// Active order is deterministic: gc_content then
	// sequence_normalizer (sorted by name).
	assert.Equal(t, "ACGT[gc=0.500]", out)
	assert.Len(t, annotations, 2)
}
