package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"geneforge/internal/logging"
	"geneforge/internal/types"
)

// Annotation records one plugin's contribution to a pipeline run.
type Annotation struct {
	Plugin   string        `json:"plugin"`
	Failed   bool          `json:"failed"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionError wraps a failure raised during Evaluate or Execute.
// In pipeline mode it becomes an inline annotation; in method mode it
// is returned as a scoped error. Shared state is never corrupted.
type ExecutionError struct {
	Plugin string
	Method string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("plugin %s method %s failed: %v", e.Plugin, e.Method, e.Err)
	}
	return fmt.Sprintf("plugin %s failed: %v", e.Plugin, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Dispatcher threads payloads through the active plugin pipeline and
// routes named method calls to single plugins. Every plugin call is
// bounded by the configured timeout and panic-contained; a timeout is
// an execution failure, not a stall.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher over the shared registry.
// timeout bounds each individual plugin call; zero or negative falls
// back to 30 seconds.
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Run threads payload sequentially through the active plugins in
// deterministic name order. A failing plugin contributes a failure
// annotation appended to the current payload instead of its intended
// transformation, and the pipeline continues; the underlying error is
// never propagated to the caller. Plugins that do not support pipeline
// mode pass the payload through unchanged.
func (d *Dispatcher) Run(ctx context.Context, payload string) (string, []Annotation) {
	// Snapshot first: invocation must not hold the registry lock.
	active := d.registry.Active()
	log := logging.For(logging.CategoryDispatch)

	annotations := make([]Annotation, 0, len(active))
	for _, in := range active {
		start := time.Now()
		out, err := d.invokeEvaluate(ctx, in.Capability(), payload)
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, ErrEvaluateNotSupported):
			// Method-dispatch-only plugin; nothing to contribute.
			continue
		case err != nil:
			reason := err.Error()
			payload += fmt.Sprintf("[%s:failed:%s]", in.Name(), reason)
			annotations = append(annotations, Annotation{
				Plugin:   in.Name(),
				Failed:   true,
				Reason:   reason,
				Duration: elapsed,
			})
			log.Warn("pipeline plugin failed",
				zap.String("plugin", in.Name()),
				zap.Error(err))
		default:
			payload = out
			annotations = append(annotations, Annotation{
				Plugin:   in.Name(),
				Duration: elapsed,
			})
		}
	}
	return payload, annotations
}

// Call routes one method invocation to the named plugin. The plugin
// must be registered and active. ErrUnknownMethod and
// ErrMissingParameter are plugin-declared preconditions surfaced
// unwrapped inside an ExecutionError chain; panics and timeouts become
// ExecutionErrors as well.
func (d *Dispatcher) Call(ctx context.Context, pluginName, method string, params map[string]any, symbols *types.SymbolTable) (any, error) {
	in, ok := d.registry.GetActive(pluginName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginName)
	}

	result, err := d.invokeExecute(ctx, in.Capability(), method, params, symbols)
	if err != nil {
		return nil, &ExecutionError{Plugin: pluginName, Method: method, Err: err}
	}
	return result, nil
}

// invokeEvaluate calls Evaluate with timeout bounding and panic
// containment.
func (d *Dispatcher) invokeEvaluate(ctx context.Context, capability Capability, payload string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		out, err := capability.Evaluate(ctx, payload)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("evaluate timed out: %w", ctx.Err())
	}
}

// invokeExecute calls Execute with timeout bounding and panic
// containment.
func (d *Dispatcher) invokeExecute(ctx context.Context, capability Capability, method string, params map[string]any, symbols *types.SymbolTable) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		out, err := capability.Execute(ctx, method, params, symbols)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("execute timed out: %w", ctx.Err())
	}
}
