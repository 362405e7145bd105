package cli

import (
	"errors"
	"fmt"
	"time"

	"myhook/internal/server/config"
	"myhook/internal/server/token"
	"myhook/internal/shared/utils"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue or inspect resumption tokens",
	Long: `Issue or inspect resumption tokens using the configured token secret.

A client presenting a token through the credential query parameter
reclaims the subdomain sealed inside it.`,
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <subdomain>",
	Short: "Issue a token for a subdomain",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenIssue,
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Decode a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenInspect,
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
	rootCmd.AddCommand(tokenCmd)
}

func loadTokenCodec() (*token.Codec, error) {
	cfg, _, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Tunnel.TokenSecret == "" {
		return nil, errors.New("tunnel.token_secret is not set; tokens would not survive a restart")
	}
	return token.NewCodec(cfg.Tunnel.TokenSecret)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	subdomain := args[0]
	if !utils.ValidateSubdomain(subdomain) {
		return fmt.Errorf("invalid subdomain %q", subdomain)
	}

	codec, err := loadTokenCodec()
	if err != nil {
		return err
	}

	tok, err := codec.Issue(subdomain, time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func runTokenInspect(cmd *cobra.Command, args []string) error {
	codec, err := loadTokenCodec()
	if err != nil {
		return err
	}

	subdomain, issued, err := codec.Redeem(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subdomain:  %s\n", subdomain)
	fmt.Fprintf(out, "Issued:     %s (%s ago)\n", issued.UTC().Format(time.RFC3339), time.Since(issued).Round(time.Second))
	return nil
}
