package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"

	// Global flags
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "myhook",
	Short: "MyHook - public URLs for private webhook receivers",
	Long: `MyHook - reverse tunnel broker

Gives every connected client a public subdomain and relays HTTP requests
for it over the client's websocket channel.

Configuration:
  myhook.yaml in ., ~/.myhook or /etc/myhook, or --config
  Environment overrides: MYHOOK_<SECTION>_<KEY> (MYHOOK_TUNNEL_TOKEN_SECRET)

Examples:
  myhook config init                  # Write a default configuration
  myhook serve                        # Run the broker
  myhook token issue stable1          # Issue a resumption token
  myhook token inspect <token>        # Decode a resumption token`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search for myhook.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MyHook Broker\n")
		fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(out, "Version:     %s\n", Version)
		fmt.Fprintf(out, "Git Commit:  %s\n", GitCommit)
		fmt.Fprintf(out, "Build Time:  %s\n", BuildTime)
		fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version information
func SetVersion(version, commit, buildTime string) {
	Version = version
	GitCommit = commit
	BuildTime = buildTime
}
