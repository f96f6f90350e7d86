package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/database"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
	"github.com/nerrad567/purrsong-bridge/migrations"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "purrsong",
		Short: "PurrSong Lavviebot bridge for Home Assistant",
		Long: `purrsong polls the PurrSong cloud for every configured account and
publishes litter boxes, scanners, tags and cats as Home Assistant entities
over MQTT discovery.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("purrsong %s (commit %s, built %s)\n", version, commit, date))
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Config file path (env: PURRSONG_CONFIG, default: "+defaultConfigPath+")")

	root.AddCommand(
		newRunCmd(opts),
		newAccountCmd(opts),
		newSnapshotCmd(opts),
		newTokenCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath returns the --config flag, then PURRSONG_CONFIG, then
// the default path.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv("PURRSONG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// openDatabase opens the SQLite store and applies schema migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.FromConfig(cfg.Database, migrations.FS))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func gatewayOptions(cfg *config.Config) lavviebot.Options {
	return lavviebot.Options{
		BaseURL: cfg.Lavviebot.BaseURL,
		Timeout: cfg.Lavviebot.RequestTimeout,
	}
}

// cliEnv is what the one-shot commands share: config, store and flow.
type cliEnv struct {
	cfg  *config.Config
	db   *database.DB
	repo *account.SQLiteRepository
	flow *account.Flow
}

func (o *rootOptions) openEnv(ctx context.Context, cmd *cobra.Command) (*cliEnv, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log := logging.NewWithWriter(cfg.Logging, version, cmd.ErrOrStderr())
	repo := account.NewSQLiteRepository(db.DB)
	flow, err := account.NewFlow(account.FlowOptions{
		Repository: repo,
		Validate:   account.NewValidator(gatewayOptions(cfg)),
		Logger:     log.Component("account"),
	})
	if err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, err
	}
	return &cliEnv{cfg: cfg, db: db, repo: repo, flow: flow}, nil
}

func (e *cliEnv) Close() error {
	return e.db.Close()
}
