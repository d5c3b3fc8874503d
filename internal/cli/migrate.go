package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SnakeO/gps-catcher/internal/config"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies the database schema",
	Long:  `Creates the PostGIS extension, the geofence table and the message, fence state, alert and watermark tables. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, gdb, err := config.OpenPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		logger.Info("Running migrations...")
		if err := repository.Migrate(ctx, db, gdb); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if cfg.Mongo.URI != "" {
			mdb, disconnect, err := config.ConnectMongoDB(ctx, cfg.Mongo, logger)
			if err != nil {
				return fmt.Errorf("mongo connection failed: %w", err)
			}
			defer disconnect(ctx)

			if err := repository.NewMongoRawMessageRepository(mdb).EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("raw message indexes: %w", err)
			}
		}

		logger.Info("Migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
