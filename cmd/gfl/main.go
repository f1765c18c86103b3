// Command gfl is the GeneForge core CLI: validate operation ASTs,
// run forward-chaining inference, execute payload pipelines through
// discovered plugins, and serve the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geneforge/internal/config"
	"geneforge/internal/core"
	"geneforge/internal/logging"
	"geneforge/internal/plugin"
	"geneforge/internal/plugin/builtin"
	"geneforge/internal/validator"
)

var (
	// Global flags
	configPath string
	debug      bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gfl",
	Short: "GeneForge core - rule validation, inference and plugin dispatch",
	Long: `gfl drives the GeneForge core pipeline.

An operation AST is validated against a declarative rule schema,
axiom-eligible operations feed a forward-chaining inference engine,
and the payload is threaded through every active plugin in order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Logging.Debug = true
		}
		return logging.Initialize(cfg.Logging.Debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "geneforge.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}

// setupRegistry registers the builtin capability table, discovers
// everything and layers in script capabilities from the configured
// plugin directory. Discovery failures are reported, never fatal.
func setupRegistry(ctx context.Context) *plugin.Registry {
	log := logging.For(logging.CategoryPlugins)

	registry := plugin.NewRegistry(cfg.Plugins.Credentials)
	builtin.RegisterAll(registry)
	report := registry.Discover()
	for _, failure := range report.Failures {
		log.Warn("plugin failed to load",
			zap.String("plugin", failure.Name),
			zap.String("reason", failure.Reason))
	}

	if cfg.Plugins.Dir != "" {
		dirReport := registry.DiscoverDir(ctx, cfg.Plugins.Dir)
		for _, failure := range dirReport.Failures {
			log.Warn("script plugin failed to load",
				zap.String("plugin", failure.Name),
				zap.String("source", failure.Source),
				zap.String("reason", failure.Reason))
		}
	}
	return registry
}

// setupRunner builds the shared runner: rule schema, dispatcher over
// the registry, inference settings from config.
func setupRunner(registry *plugin.Registry) (*core.Runner, error) {
	rules, err := validator.LoadRuleSet(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule schema: %w", err)
	}
	dispatcher := plugin.NewDispatcher(registry, cfg.Plugins.TimeoutDuration())
	return core.NewRunner(rules, dispatcher, cfg.Inference), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
