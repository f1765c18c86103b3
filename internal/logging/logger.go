// Package logging provides the category-tagged zap logger used across
// the GeneForge core. Libraries default to a no-op logger so importing
// packages stay quiet until Initialize is called by the process entry
// point.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category tags a subsystem's log output.
type Category string

const (
	CategoryCore      Category = "core"      // session orchestration
	CategoryValidator Category = "validator" // rule validation
	CategoryInference Category = "inference" // axiom store, forward chaining
	CategoryPlugins   Category = "plugins"   // discovery, registry, watcher
	CategoryDispatch  Category = "dispatch"  // pipeline and method dispatch
	CategoryStore     Category = "store"     // run-history persistence
	CategoryServer    Category = "server"    // HTTP API
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Initialize installs the process-wide logger. debug enables the debug
// level and development-style output.
func Initialize(debug bool) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	base = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the process-wide logger. Tests use this to capture
// output; passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// For returns a child logger tagged with the given category.
func For(c Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With(zap.String("category", string(c)))
}

// Sync flushes buffered log entries. Safe to call at process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
