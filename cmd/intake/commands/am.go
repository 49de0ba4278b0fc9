package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/intake/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage intake configuration",
	Long: `am: Manage intake configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (INTAKE_* prefix)
2. Project config (./am.toml, searching up directories)
3. User config (~/.intake/am.toml)
4. System config (/etc/intake/am.toml)
5. Default values

A running server picks up changes to scoring.rate_per_window,
scoring.window_seconds and scoring.capacity without a restart.

Examples:
  intake am show                              # Show current configuration
  intake am show --format json                # Show configuration in JSON format
  intake am get scoring.rate_per_window       # Get specific config value
  intake am set scoring.rate_per_window 30    # Persist a value
  intake am validate                          # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective intake configuration from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write a value into the active config file: --config if given, otherwise
./am.toml (searching up directories), otherwise ~/.intake/am.toml.
The previous file is kept as a .toml.back backup.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

// renderConfig marshals cfg in one of the supported formats
func renderConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# intake configuration\n" + string(data), nil

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# intake configuration\n" + string(data), nil

	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := configPath()
	if path == "" {
		return fmt.Errorf("no config file to write: pass --config or create ./am.toml")
	}
	if err := am.SetValue(path, args[0], args[1]); err != nil {
		return err
	}

	// The written file must still load as a valid configuration
	am.Reset()
	if _, err := loadConfig(); err != nil {
		pterm.Warning.Printf("%s was written but the configuration is now invalid: %v\n", path, err)
		return nil
	}
	pterm.Success.Printf("%s = %s (%s)\n", args[0], args[1], path)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}
