package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agrimarket/pkg/config"
	"agrimarket/pkg/logger"
	"agrimarket/pkg/storage/sqlstore"
	"agrimarket/pkg/version"
)

const defaultConfigPath = "agrimarket.yaml"

// cli carries what every subcommand shares.
type cli struct {
	configPath string
	lggr       *zap.SugaredLogger
}

// Run builds the command tree and executes it with args, so every entry point behaves the same.
// A nil logger is replaced by one built from the loaded configuration.
func Run(ctx context.Context, args []string, lggr *zap.SugaredLogger) error {
	root := newRootCommand(lggr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(lggr *zap.SugaredLogger) *cobra.Command {
	a := &cli{lggr: lggr}
	root := &cobra.Command{
		Use:           "agrimarket",
		Short:         "Farm-to-market marketplace: transport bookings, crop auctions and support chat",
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(version.String() + "\n")
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Path to the YAML configuration file")

	root.AddCommand(
		a.newServeCmd(),
		a.newMigrateCmd(),
		a.newQuoteCmd(),
		a.newAdminCmd(),
		a.newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and resolves the logger the command should use.
func (a *cli) load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if a.lggr != nil {
		return cfg, a.lggr, nil
	}
	lggr, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, lggr, nil
}

// openDB connects and applies the schema.
func openDB(ctx context.Context, cfg *config.Config, lggr *zap.SugaredLogger) (*sqlx.DB, error) {
	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	}, lggr)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to apply schema: %w", err)
	}
	return db, nil
}
