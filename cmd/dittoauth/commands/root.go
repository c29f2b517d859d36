// Package commands implements the dittoauth CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/internal/telemetry"
	"github.com/marmos91/dittoauth/pkg/auth"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
	"github.com/marmos91/dittoauth/pkg/config"
	"github.com/marmos91/dittoauth/pkg/metrics"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile      string
	authTypeFlag string
	pluginDir    string

	// Set by setup for the running command.
	cfg               *config.Config
	authLoader        rack.Loader
	telemetryShutdown func(context.Context) error
)

// skipSetup marks commands that run without loading configuration.
const skipSetup = "skip-setup"

var rootCmd = &cobra.Command{
	Use:   "dittoauth",
	Short: "dittoauth - pluggable credential authentication",
	Long: `dittoauth issues and verifies credentials through the authentication
mechanism selected in configuration (auth/none, auth/jwt, auth/krb5, or a
mechanism plugin from the plugin directory).

Use "dittoauth [command] --help" for more information about a command.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittoauth/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&authTypeFlag, "type", "", "mechanism type, overrides auth.type")
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "plugin directory, overrides auth.plugin_dir")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mechanismsCmd)
	rootCmd.AddCommand(credCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// setup loads configuration and wires logging, telemetry, metrics and the
// process-wide authentication context for the command about to run.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if authTypeFlag != "" {
		loaded.Auth.Type = authTypeFlag
	}
	if pluginDir != "" {
		loaded.Auth.PluginDir = pluginDir
	}
	cfg = loaded

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	telemetryShutdown, err = telemetry.Init(cmd.Context(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	authLoader, err = auth.DefaultLoader(auth.LoaderSettings{
		Mechanisms: cfg.Auth.MechanismSettings(),
		Paranoia:   cfg.Auth.Paranoia,
		TrustedUID: cfg.Auth.TrustedUID,
	})
	if err != nil {
		return err
	}
	auth.SetConfigProvider(config.NewStaticProvider(cfg))
	auth.SetLoader(authLoader)

	logger.Debug("Configuration loaded",
		logger.KeySource, configSource(),
		logger.KeyAuthType, cfg.Auth.Type,
		logger.KeyPluginDir, cfg.Auth.PluginDir,
		"telemetry", telemetry.IsEnabled())
	return nil
}

func teardown(cmd *cobra.Command, _ []string) error {
	if cfg != nil && cfg.Metrics.Enabled {
		logMetricsSummary()
	}
	if telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Telemetry.ShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}
	return nil
}

// logMetricsSummary logs every counter collected during the command.
func logMetricsSummary() {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		logger.Warn("Failed to gather metrics", logger.Err(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			args := []any{"metric", mf.GetName(), "value", m.GetCounter().GetValue()}
			for _, l := range m.GetLabel() {
				args = append(args, l.GetName(), l.GetValue())
			}
			logger.Info("Metric", args...)
		}
	}
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
