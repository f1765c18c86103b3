package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geneforge/internal/axiom"
	"geneforge/internal/core"
	"geneforge/internal/logging"
	"geneforge/internal/plugin"
	"geneforge/internal/plugin/builtin"
	"geneforge/internal/server"
	"geneforge/internal/store"
	"geneforge/internal/validator"
)

// validateCmd checks an operation AST against the rule schema.
var validateCmd = &cobra.Command{
	Use:   "validate <ast-file>",
	Short: "Validate an operation AST against the rule schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := validator.LoadRuleSet(cfg.Rules.Path)
		if err != nil {
			return fmt.Errorf("failed to load rule schema: %w", err)
		}
		ast, err := core.LoadAST(args[0])
		if err != nil {
			return err
		}
		if err := validator.Validate(ast, rules); err != nil {
			return err
		}
		fmt.Printf("OK: %d operation(s) valid\n", len(ast))
		return nil
	},
}

var (
	inferAxioms []string
	inferRules  []string
	inferCheck  bool
)

// inferCmd runs forward chaining over axioms and rules given on the
// command line. Rules use the form premise=>conclusion.
var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run forward-chaining inference to fixpoint",
	Example: `  gfl infer --axiom TP53_mutation \
    --rule "TP53_mutation=>tumor_suppressor_loss" \
    --rule "tumor_suppressor_loss=>oncology_panel"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := axiom.NewStore()
		st.AddAxioms(inferAxioms...)
		for _, raw := range inferRules {
			premise, conclusion, ok := strings.Cut(raw, "=>")
			if !ok {
				return fmt.Errorf("invalid rule %q: want premise=>conclusion", raw)
			}
			st.AddRule(strings.TrimSpace(premise), strings.TrimSpace(conclusion))
		}

		result, err := st.Infer(cfg.Inference.MaxPasses)
		if err != nil {
			return err
		}
		if inferCheck || cfg.Inference.CrossCheck {
			check, err := st.CrossCheck(cmd.Context())
			if err != nil {
				return fmt.Errorf("cross-check failed: %w", err)
			}
			if !check.Agree() {
				return fmt.Errorf("cross-check divergence: naive-only %v, datalog-only %v",
					check.NaiveOnly, check.DatalogOnly)
			}
			fmt.Println("cross-check: closures agree")
		}

		axioms, _ := st.Explain()
		fmt.Printf("Passes: %d\n", result.Passes)
		fmt.Printf("Derived: %s\n", joinOrNone(result.Added))
		fmt.Printf("Closure: %s\n", joinOrNone(axioms))
		return nil
	},
}

var runPayload string

// runCmd executes the full pipeline for one payload.
var runCmd = &cobra.Command{
	Use:   "run <ast-file>",
	Short: "Validate, infer and dispatch a payload through active plugins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ast, err := core.LoadAST(args[0])
		if err != nil {
			return err
		}

		registry := setupRegistry(ctx)
		runner, err := setupRunner(registry)
		if err != nil {
			return err
		}

		report, err := runner.Run(ctx, ast, runPayload)
		if err != nil {
			return err
		}

		if cfg.Store.Enabled {
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveRun(ctx, report); err != nil {
				logging.For(logging.CategoryStore).Warn("failed to persist run",
					zap.String("run_id", report.ID), zap.Error(err))
			}
		}

		return printJSON(report)
	},
}

// pluginsCmd groups plugin management subcommands.
var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and manage plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered plugins and their activation state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		registry := setupRegistry(ctx)
		for _, name := range registry.Names() {
			in, ok := registry.Get(name)
			if !ok {
				continue
			}
			state := "active"
			if !registry.IsActive(name) {
				state = "disabled"
			}
			fmt.Printf("%-24s %-8s %s\n", in.Name(), state, in.Source())
		}
		return nil
	},
}

var pluginsDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run discovery and report every load failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		registry := plugin.NewRegistry(cfg.Plugins.Credentials)
		builtin.RegisterAll(registry)
		reports := []plugin.DiscoveryReport{registry.Discover()}
		if cfg.Plugins.Dir != "" {
			reports = append(reports, registry.DiscoverDir(ctx, cfg.Plugins.Dir))
		}

		fmt.Printf("Loaded: %s\n", joinOrNone(registry.Names()))
		for _, report := range reports {
			for _, failure := range report.Failures {
				fmt.Printf("FAILED: %s (%s): %s\n", failure.Name, failure.Source, failure.Reason)
			}
		}

		if cfg.Store.Enabled {
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, report := range reports {
				if err := st.SaveDiscovery(ctx, report); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a plugin on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return togglePlugin(args[0], "enable")
	},
}

var pluginsDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a plugin on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return togglePlugin(args[0], "disable")
	},
}

// togglePlugin talks to the serve process; activation state lives in
// its registry, not on disk.
func togglePlugin(name, action string) error {
	url := fmt.Sprintf("http://%s/v1/plugins/%s/%s", serverHost(), name, action)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body["error"] != "" {
			return errors.New(body["error"])
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	fmt.Printf("%s: %sd\n", name, action)
	return nil
}

// serverHost maps a listen address like ":8087" to a dialable host.
func serverHost() string {
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

// serveCmd runs the HTTP API, with optional hot reload of the plugin
// directory and optional run-history persistence.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		log := logging.For(logging.CategoryServer)

		registry := setupRegistry(ctx)
		runner, err := setupRunner(registry)
		if err != nil {
			return err
		}
		srv := server.New(runner, registry)

		if cfg.Store.Enabled {
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			srv.WithHistory(st)
		}

		if cfg.Plugins.Watch && cfg.Plugins.Dir != "" {
			watcher, err := plugin.NewWatcher(registry, cfg.Plugins.Dir)
			if err != nil {
				return fmt.Errorf("failed to watch plugin dir: %w", err)
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()
			log.Info("hot reload enabled", zap.String("dir", cfg.Plugins.Dir))
		}

		httpSrv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: srv.Router(),
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", zap.String("addr", cfg.Server.Addr))
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpSrv.Shutdown(shutdownCtx)
		}
	},
}

var historyLimit int

// historyCmd prints persisted run reports, newest first.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show persisted run reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, rec := range records {
			failed := 0
			for _, ann := range rec.Annotations {
				if ann.Failed {
					failed++
				}
			}
			fmt.Printf("%s  %s  %q -> %q  (%d plugin(s), %d failed, %d axiom(s))\n",
				rec.StartedAt.Format(time.RFC3339), rec.ID,
				rec.Payload, rec.Result, len(rec.Annotations), failed, len(rec.Axioms))
		}
		return nil
	},
}

func init() {
	inferCmd.Flags().StringArrayVar(&inferAxioms, "axiom", nil, "seed axiom (repeatable)")
	inferCmd.Flags().StringArrayVar(&inferRules, "rule", nil, "rule premise=>conclusion (repeatable)")
	inferCmd.Flags().BoolVar(&inferCheck, "check", false, "cross-check the closure against the Datalog engine")

	runCmd.Flags().StringVarP(&runPayload, "payload", "p", "", "pipeline payload")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to show")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsDiscoverCmd)
	pluginsCmd.AddCommand(pluginsEnableCmd)
	pluginsCmd.AddCommand(pluginsDisableCmd)
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
