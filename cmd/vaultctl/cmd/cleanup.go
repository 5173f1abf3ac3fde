package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopost-hq/tokenvault/config"
	"github.com/autopost-hq/tokenvault/internal/crypto"
	"github.com/autopost-hq/tokenvault/mongodb"
	"github.com/autopost-hq/tokenvault/services"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the token maintenance sweep",
	Long: `Deactivates credentials whose tokens have expired and hard-deletes
records that have been inactive past the configured inactivity window.
This is the same sweep the server exposes on its cleanup endpoint; run it
here from cron or by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		appLogger.Info(ctx, "Starting cleanup sweep", map[string]interface{}{
			"db_name":                cfg.MongoDBName,
			"inactivity_window_days": cfg.InactivityWindowDays,
		})

		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		defer mongodb.CloseMongoDB(ctx)

		repo, err := mongodb.NewCredentialRepository(ctx, mongodb.GetDB())
		if err != nil {
			return fmt.Errorf("initialize credential repository: %w", err)
		}

		store := services.NewTokenStore(repo, crypto.NewCodec(cfg.TokenEncryptionKey), nil, services.Options{
			TokenTTL:         cfg.TokenTTL(),
			RefreshWindow:    cfg.RefreshWindow(),
			InactivityWindow: cfg.InactivityWindow(),
		})

		result, err := store.PerformCleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleanup sweep: %w", err)
		}

		fmt.Printf("Cleanup completed: %d expired tokens deactivated, %d inactive records deleted\n",
			result.ExpiredTokens, result.InactiveUsers)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
