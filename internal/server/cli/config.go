package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"myhook/internal/server/config"
	"myhook/internal/server/token"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  "Manage the MyHook broker configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long:  "Write a default configuration with a freshly generated token secret",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the configuration after defaults and environment overrides are applied",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Load and validate the configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configFull   bool
	configForce  bool
	configPath   string
	configDomain string
)

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVar(&configPath, "path", "", "Output file (default: ~/.myhook/myhook.yaml)")
	configInitCmd.Flags().StringVar(&configDomain, "domain", "", "Main domain (e.g., hooks.example.com)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")

	configShowCmd.Flags().BoolVar(&configFull, "full", false, "Show full token secret (not hidden)")

	rootCmd.AddCommand(configCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.FileName + ".yaml"
	}
	return filepath.Join(home, ".myhook", config.FileName+".yaml")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}

	if config.Exists(path) && !configForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	cfg := config.Default()
	if configDomain != "" {
		cfg.Server.MainDomain = configDomain
	}

	secret, err := token.RandomSecret()
	if err != nil {
		return fmt.Errorf("failed to generate token secret: %w", err)
	}
	cfg.Tunnel.TokenSecret = secret

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✓ Configuration saved to", path)
	fmt.Fprintln(out, "✓ Token secret generated; keep it stable so clients can resume their subdomains")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, used, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if !configFull {
		cfg.Tunnel.TokenSecret = maskSecret(cfg.Tunnel.TokenSecret)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	out := cmd.OutOrStdout()
	if used == "" {
		used = "(defaults and environment)"
	}
	fmt.Fprintf(out, "# Source: %s\n", used)
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	cfg, used, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(out, "✗ Failed to load configuration")
		return err
	}

	if used != "" {
		fmt.Fprintln(out, "✓ File:", used)
	} else {
		fmt.Fprintln(out, "⚠ No configuration file found, checked defaults and environment")
	}

	fmt.Fprintf(out, "✓ Main domain: %s\n", cfg.Server.MainDomain)
	if cfg.TLSEnabled() {
		fmt.Fprintf(out, "✓ TLS: %s\n", cfg.TLS.Mode)
	} else {
		fmt.Fprintln(out, "⚠ TLS is disabled (public URLs use http)")
	}
	if cfg.Tunnel.TokenSecret == "" {
		fmt.Fprintln(out, "⚠ Token secret is not set (resumption tokens die with the process)")
	} else {
		fmt.Fprintln(out, "✓ Token secret is set")
	}
	if cfg.Tunnel.UseTestSubdomain {
		fmt.Fprintf(out, "⚠ Test mode: every client gets %q\n", cfg.Tunnel.TestSubdomain)
	}

	fmt.Fprintln(out, "\n✓ Configuration is valid")
	return nil
}

// maskSecret hides the middle of a secret
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 10:
		return s[:3] + "***" + s[len(s)-3:]
	default:
		return "***"
	}
}
