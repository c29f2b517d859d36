package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoauth/internal/cli/output"
	"github.com/marmos91/dittoauth/pkg/config"
)

var (
	initForce  bool
	showOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a sample configuration file.

By default the file is created at $XDG_CONFIG_HOME/dittoauth/config.yaml.
Use --config to choose another path.`,
	Annotations: map[string]string{skipSetup: "true"},
	Args:        cobra.NoArgs,
	RunE:        runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and DITTOAUTH_* environment
overrides are applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	configShowCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.Print(cmd.OutOrStdout(), format, cfg)
}
