package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/pscheid92/racecontrol/internal/adapter/postgres"
	"github.com/pscheid92/racecontrol/internal/platform/config"
	"github.com/pscheid92/racecontrol/internal/platform/logging"
	"github.com/pscheid92/racecontrol/internal/platform/version"
)

// env is what every subcommand needs once connected.
type env struct {
	pool        *pgxpool.Pool
	catalog     *postgres.CatalogRepo
	provisioner *postgres.Provisioner
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and clean up race-control session databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logging.InitLogger(level, "text")
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newListCmd())
	root.AddCommand(newOrphansCmd())
	root.AddCommand(newDropCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	})
	return root
}

// withEnv connects to the control database named by DATABASE_URL, applies the
// catalog migrations and runs fn.
func withEnv(ctx context.Context, fn func(ctx context.Context, e env) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		return err
	}

	return fn(ctx, env{
		pool:        pool,
		catalog:     postgres.NewCatalogRepo(pool),
		provisioner: postgres.NewProvisioner(pool),
	})
}
