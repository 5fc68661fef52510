package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "habitat/cmd/habitat/docs"
	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/logging"
)

var (
	configFile string
)

// @title           Habitat API
// @version         1.0
// @description     Telemetry ingestion, message server control and live feed for high altitude balloon tracking

// @license.name  GPL-3.0
// @license.url   https://www.gnu.org/licenses/gpl-3.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Operator token, "Bearer <jwt>", required to load, unload or reload sinks

func main() {
	rootCmd := &cobra.Command{
		Use:   "habitat",
		Short: "Habitat telemetry message server",
		Long:  "Habitat receives balloon telemetry from listeners, parses it against flight configuration and archives the results",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(signHotfixCmd())
	rootCmd.AddCommand(flightsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the message server and HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog(cmd.ErrOrStderr(), constants.ServiceName)

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, constants.ServiceName)

			log.InfowCtx(ctx, "Starting habitat")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			runErr := app.Run(ctx)
			if runErr != nil {
				log.ErrorwCtx(ctx, "Application error", "error", runErr)
			}
			if err := app.Shutdown(ctx); err != nil {
				log.ErrorwCtx(ctx, "Shutdown error", "error", err)
				if runErr == nil {
					runErr = err
				}
			}
			return runErr
		},
	}
}
