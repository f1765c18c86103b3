package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"geneforge/internal/logging"
	"geneforge/internal/types"
)

// Script plugins are plain Go files interpreted at runtime instead of
// compiled and linked. A script declares:
//
//	func Name() string
//	func Evaluate(input string) (string, error)
//
// and optionally:
//
//	func Configure(cfg map[string]string) error
//
// Configure receives the configured credentials and stands in for a
// constructor argument; returning an error fails instantiation of that
// candidate only. Only whitelisted stdlib imports are allowed.

// scriptAllowedImports is the stdlib whitelist for interpreted
// capability scripts. Filesystem, process and network packages are
// deliberately absent.
var scriptAllowedImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
}

// DiscoverDir enumerates *.go capability scripts in dir and installs
// each one that instantiates cleanly. Files with a leading underscore
// are treated as shared helpers, not candidates, and are skipped.
// Per-candidate failures are recorded in the report; siblings are
// unaffected.
func (r *Registry) DiscoverDir(ctx context.Context, dir string) DiscoveryReport {
	start := time.Now()
	report := DiscoveryReport{
		ID:        uuid.NewString(),
		Source:    dir,
		StartedAt: start,
	}
	log := logging.For(logging.CategoryPlugins)

	entries, err := os.ReadDir(dir)
	if err != nil {
		report.Failures = append(report.Failures, LoadFailure{
			Name:   filepath.Base(dir),
			Source: dir,
			Reason: fmt.Sprintf("failed to read plugin directory: %v", err),
		})
		report.Duration = time.Since(start)
		return report
	}

	var candidates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasPrefix(name, "_") {
			continue
		}
		candidates = append(candidates, name)
	}
	sort.Strings(candidates)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, file := range candidates {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(dir, file)
		capability, err := loadScript(path, r.credentials)
		if err != nil {
			report.Failures = append(report.Failures, LoadFailure{
				Name:   strings.TrimSuffix(file, ".go"),
				Source: path,
				Reason: err.Error(),
			})
			log.Warn("script plugin load failed",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		r.installLocked(capability.Name(), path, capability, &report)
	}

	report.Duration = time.Since(start)
	log.Info("directory discovery complete",
		zap.String("dir", dir),
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failures", len(report.Failures)))
	return report
}

// loadScript interprets one capability script and wraps its exported
// functions in a Capability. Interpreter panics are contained.
func loadScript(path string, credentials map[string]string) (capability Capability, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			capability = nil
			err = fmt.Errorf("script interpreter panic: %v", rec)
		}
	}()

	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	if err := validateScriptImports(string(code)); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(string(code)); err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}

	nameVal, err := i.Eval("main.Name")
	if err != nil {
		return nil, fmt.Errorf("script does not export Name: %w", err)
	}
	nameFn, ok := nameVal.Interface().(func() string)
	if !ok {
		return nil, fmt.Errorf("Name has wrong signature (want func() string)")
	}
	name := nameFn()
	if name == "" {
		return nil, ErrPluginNameEmpty
	}

	evalVal, err := i.Eval("main.Evaluate")
	if err != nil {
		return nil, fmt.Errorf("script does not export Evaluate: %w", err)
	}
	evalFn, ok := evalVal.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("Evaluate has wrong signature (want func(string) (string, error))")
	}

	// Configure is the script's constructor-requirement hook.
	if cfgVal, cfgErr := i.Eval("main.Configure"); cfgErr == nil {
		cfgFn, ok := cfgVal.Interface().(func(map[string]string) error)
		if !ok {
			return nil, fmt.Errorf("Configure has wrong signature (want func(map[string]string) error)")
		}
		if err := cfgFn(credentials); err != nil {
			return nil, fmt.Errorf("script configuration failed: %w", err)
		}
	}

	return &scriptCapability{name: name, evaluate: evalFn}, nil
}

// validateScriptImports rejects scripts importing anything outside the
// stdlib whitelist.
func validateScriptImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
			continue
		}

		if !inBlock && !strings.HasPrefix(trimmed, "import ") {
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}

		// The import path is the quoted segment, alias or not.
		first := strings.Index(trimmed, `"`)
		last := strings.LastIndex(trimmed, `"`)
		if first < 0 || last <= first {
			continue
		}
		pkg := trimmed[first+1 : last]
		if pkg != "" && !scriptAllowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden script imports: %v", forbidden)
	}
	return nil
}

// scriptCapability adapts an interpreted script to the Capability
// contract. Scripts are pipeline-only: Execute declines every method.
type scriptCapability struct {
	name     string
	evaluate func(string) (string, error)
}

func (s *scriptCapability) Name() string      { return s.name }
func (s *scriptCapability) Activate() error   { return nil }
func (s *scriptCapability) Deactivate() error { return nil }

func (s *scriptCapability) Evaluate(ctx context.Context, text string) (string, error) {
	return s.evaluate(text)
}

func (s *scriptCapability) Execute(ctx context.Context, method string, params map[string]any, symbols *types.SymbolTable) (any, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}
