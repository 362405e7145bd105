package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"myhook/internal/server/app"
	"myhook/internal/server/config"
	"myhook/internal/shared/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tunnel broker",
	Long: `Run the tunnel broker.

Serves the root site, the tunnel endpoint and every tunneled subdomain,
plus /metrics, /healthz and /readyz on the metrics address.
SIGINT or SIGTERM shuts down gracefully: every tunnel is closed and
waiting callers receive 503.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, used, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := utils.InitServerLogger(cfg.Log.Level, cfg.Log.Debug || verbose); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.Sync()
	logger := utils.GetLogger()

	if used != "" {
		logger.Info("Configuration loaded", zap.String("file", used))
	} else {
		logger.Info("No configuration file found, using defaults and environment")
	}

	broker, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return broker.Run(ctx)
}
