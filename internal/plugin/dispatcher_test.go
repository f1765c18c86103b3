package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geneforge/internal/types"
)

func registryWith(t *testing.T, factories map[string]Factory) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	for name, f := range factories {
		r.MustRegisterFactory(name, f)
	}
	report := r.Discover()
	require.Empty(t, report.Failures)
	return r
}

func TestPipelineThreadsPayloadInOrder(t *testing.T) {
	// Names chosen so sorted order is a_, b_.
	r := registryWith(t, map[string]Factory{
		"a_append": appender("a_append", "(A)"),
		"b_append": appender("b_append", "(B)"),
	})
	d := NewDispatcher(r, time.Second)

	out, annotations := d.Run(context.Background(), "x")

	assert.Equal(t, "x(A)(B)", out)
	require.Len(t, annotations, 2)
	assert.Equal(t, "a_append", annotations[0].Plugin)
	assert.Equal(t, "b_append", annotations[1].Plugin)
	assert.False(t, annotations[0].Failed)
}

func TestPipelineDeterministicAcrossRuns(t *testing.T) {
	r := registryWith(t, map[string]Factory{
		"a": appender("a", "(A)"),
		"b": appender("b", "(B)"),
		"c": appender("c", "(C)"),
	})
	d := NewDispatcher(r, time.Second)

	first, _ := d.Run(context.Background(), "seed")
	for i := 0; i < 20; i++ {
		out, _ := d.Run(context.Background(), "seed")
		assert.Equal(t, first, out)
	}
}

func TestPipelineFaultIsolation(t *testing.T) {
	r := registryWith(t, map[string]Factory{
		"a_ok": appender("a_ok", "(A)"),
		"b_fails": func(map[string]string) (Capability, error) {
			return &fakeCapability{
				name: "b_fails",
				evalFn: func(context.Context, string) (string, error) {
					return "", errors.New("reagent exhausted")
				},
			}, nil
		},
		"c_ok": appender("c_ok", "(C)"),
	})
	d := NewDispatcher(r, time.Second)

	out, annotations := d.Run(context.Background(), "x")

	// Upstream and downstream contributions survive; the failure is
	// an inline annotation on the payload that was current when the
	// plugin failed.
	assert.Equal(t, "x(A)[b_fails:failed:reagent exhausted](C)", out)
	require.Len(t, annotations, 3)
	assert.False(t, annotations[0].Failed)
	assert.True(t, annotations[1].Failed)
	assert.Equal(t, "reagent exhausted", annotations[1].Reason)
	assert.False(t, annotations[2].Failed)
}

func TestPipelinePanicContained(t *testing.T) {
	r := registryWith(t, map[string]Factory{
		"a_panics": func(map[string]string) (Capability, error) {
			return &fakeCapability{
				name: "a_panics",
				evalFn: func(context.Context, string) (string, error) {
					panic("slice out of range")
				},
			}, nil
		},
		"b_ok": appender("b_ok", "(B)"),
	})
	d := NewDispatcher(r, time.Second)

	var out string
	require.NotPanics(t, func() {
		out, _ = d.Run(context.Background(), "x")
	})
	assert.Contains(t, out, "[a_panics:failed:panic: slice out of range]")
	assert.Contains(t, out, "(B)")
}

func TestPipelineTimeoutIsFailure(t *testing.T) {
	r := registryWith(t, map[string]Factory{
		"a_slow": func(map[string]string) (Capability, error) {
			return &fakeCapability{
				name: "a_slow",
				evalFn: func(ctx context.Context, _ string) (string, error) {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return "never", ctx.Err()
				},
			}, nil
		},
		"b_ok": appender("b_ok", "(B)"),
	})
	d := NewDispatcher(r, 50*time.Millisecond)

	start := time.Now()
	out, annotations := d.Run(context.Background(), "x")

	assert.Less(t, time.Since(start), 2*time.Second, "timeout must not block the pipeline")
	assert.Contains(t, out, "a_slow:failed")
	assert.Contains(t, out, "(B)", "downstream plugin still runs after a timeout")
	require.Len(t, annotations, 2)
	assert.True(t, annotations[0].Failed)
}

func TestPipelineSkipsMethodOnlyPlugins(t *testing.T) {
	r := registryWith(t, map[string]Factory{
		"a_method_only": func(map[string]string) (Capability, error) {
			return &fakeCapability{
				name: "a_method_only",
				evalFn: func(context.Context, string) (string, error) {
					return "", ErrEvaluateNotSupported
				},
			}, nil
		},
		"b_ok": appender("b_ok", "(B)"),
	})
	d := NewDispatcher(r, time.Second)

	out, annotations := d.Run(context.Background(), "x")
	assert.Equal(t, "x(B)", out)
	assert.Len(t, annotations, 1)
}

func TestPipelineEmptyRegistry(t *testing.T) {
	d := NewDispatcher(NewRegistry(nil), time.Second)
	out, annotations := d.Run(context.Background(), "x")
	assert.Equal(t, "x", out)
	assert.Empty(t, annotations)
}

func methodPlugin() Factory {
	return func(map[string]string) (Capability, error) {
		return &fakeCapability{
			name: "methods",
			execFn: func(_ context.Context, method string, params map[string]any, symbols *types.SymbolTable) (any, error) {
				if method != "echo" {
					return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
				}
				text, ok := params["text"]
				if !ok {
					return nil, fmt.Errorf("%w: text", ErrMissingParameter)
				}
				if symbols != nil {
					symbols.Set("last_echo", text)
				}
				return text, nil
			},
		}, nil
	}
}

func TestCallRoutesToPlugin(t *testing.T) {
	r := registryWith(t, map[string]Factory{"methods": methodPlugin()})
	d := NewDispatcher(r, time.Second)
	st := types.NewSymbolTable()

	result, err := d.Call(context.Background(), "methods", "echo", map[string]any{"text": "hi"}, st)
	require.NoError(t, err)
	assert.Equal(t, "hi", result)

	stored, _ := st.Get("last_echo")
	assert.Equal(t, "hi", stored)
}

func TestCallUnknownPlugin(t *testing.T) {
	d := NewDispatcher(NewRegistry(nil), time.Second)
	_, err := d.Call(context.Background(), "ghost", "echo", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestCallInactivePluginIsUnknown(t *testing.T) {
	r := registryWith(t, map[string]Factory{"methods": methodPlugin()})
	require.NoError(t, r.Disable("methods"))

	d := NewDispatcher(r, time.Second)
	_, err := d.Call(context.Background(), "methods", "echo", map[string]any{"text": "hi"}, nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestCallUnknownMethod(t *testing.T) {
	r := registryWith(t, map[string]Factory{"methods": methodPlugin()})
	d := NewDispatcher(r, time.Second)

	_, err := d.Call(context.Background(), "methods", "nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "methods", execErr.Plugin)
	assert.Equal(t, "nope", execErr.Method)
}

func TestCallMissingParameter(t *testing.T) {
	r := registryWith(t, map[string]Factory{"methods": methodPlugin()})
	d := NewDispatcher(r, time.Second)

	_, err := d.Call(context.Background(), "methods", "echo", map[string]any{}, nil)
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestCallPanicBecomesExecutionError(t *testing.T) {
	r := registryWith(t, map[string]Factory{
		"panicky": func(map[string]string) (Capability, error) {
			return &fakeCapability{
				name: "panicky",
				execFn: func(context.Context, string, map[string]any, *types.SymbolTable) (any, error) {
					panic("nil map write")
				},
			}, nil
		},
	})
	d := NewDispatcher(r, time.Second)

	var err error
	require.NotPanics(t, func() {
		_, err = d.Call(context.Background(), "panicky", "anything", nil, nil)
	})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "panic")
}

func TestDispatchDuringRediscovery(t *testing.T) {
	// Concurrent dispatches against concurrent re-discovery must
	// never observe a half-updated registry.
	r := registryWith(t, map[string]Factory{
		"a": appender("a", "(A)"),
		"b": appender("b", "(B)"),
	})
	d := NewDispatcher(r, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			r.Discover()
		}
	}()

	for i := 0; i < 200; i++ {
		out, _ := d.Run(context.Background(), "x")
		assert.Equal(t, "x(A)(B)", out)
	}
	<-done
}
