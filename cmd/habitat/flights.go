package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"habitat/internal/constants"
	"habitat/internal/flightconfig"
	"habitat/internal/logger"
	"habitat/pkg/bootstrap"
	"habitat/pkg/logging"
	"habitat/pkg/migrations"
)

func flightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flights",
		Short: "Manage flight documents",
	}
	cmd.AddCommand(flightsValidateCmd())
	cmd.AddCommand(flightsImportCmd())
	return cmd
}

func flightsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check flight documents against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := flightconfig.ReadDocumentsFile(args[0])
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", d.ID, d.Type, d.Callsigns)
			}
			return nil
		},
	}
}

func flightsImportCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Validate flight documents and upsert them into MongoDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := flightconfig.ReadDocumentsFile(args[0])
			if err != nil {
				return err
			}

			earlyLog := logging.NewEarlyLog(cmd.ErrOrStderr(), constants.ServiceName)
			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}
			if !cfg.Database.MongoDB.Enabled() {
				return fmt.Errorf("database.mongodb.uri is required to import flights")
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			base := bootstrap.NewBase(cfg, log)
			defer base.Shutdown(context.Background())

			client, err := base.OpenMongoDB(ctx)
			if err != nil {
				return err
			}

			db := mongoDatabase(cfg, client)
			if err := migrations.EnsureFlightIndexes(ctx, db); err != nil {
				return err
			}

			repo := flightconfig.NewMongoRepository(db)
			for _, d := range docs {
				if err := repo.Upsert(ctx, d); err != nil {
					return err
				}
				log.InfowCtx(ctx, "Flight document imported", "id", d.ID, "callsigns", d.Callsigns)
			}

			if cfg.Database.Redis.Enabled() {
				rdb, err := base.OpenRedis(ctx)
				if err != nil {
					log.WarnwCtx(ctx, "Redis unavailable, cached lookups expire on their own", "error", err)
					return nil
				}

				ttl := time.Duration(cfg.Parser.ConfigCacheTTLSeconds) * time.Second
				cache := flightconfig.NewCachedStore(repo, rdb, ttl, log)
				for _, d := range docs {
					for _, callsign := range d.Callsigns {
						if err := cache.Invalidate(ctx, callsign); err != nil {
							log.WarnwCtx(ctx, "Failed to invalidate cached lookups", "callsign", callsign, "error", err)
						}
					}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d flight documents\n", len(docs))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	return cmd
}
