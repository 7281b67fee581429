// ABOUTME: Root cobra command, shared flags, and config/transport helpers
// ABOUTME: Operator commands open the same transport and database the node uses

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/2389/topicmesh/internal/config"
	"github.com/2389/topicmesh/internal/store"
	"github.com/2389/topicmesh/internal/transport"
)

var errSharedTransport = errors.New("this command needs a shared transport; set transport.kind to redis or sqlite")

var errNoDatabase = errors.New("no database configured; set database.path or use the sqlite transport")

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "topicmesh",
		Short:         "Agents cooperating over append-only topic logs",
		Long:          "topicmesh runs risk, rebalance and price-feed agents plus a peer connection manager, all communicating through sequence-numbered topics.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $"+config.EnvConfigPath+" or $XDG_CONFIG_HOME/topicmesh/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newConnectionsCmd(opts),
		newAcceptCmd(opts),
		newPublishCmd(opts),
		newTopicCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig returns the config at the resolved path, or Default when no file
// exists and none was named explicitly.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path, found := config.Resolve(o.configPath)
	if !found {
		if o.configPath != "" {
			return nil, path, fmt.Errorf("config file %s not found", path)
		}
		cfg := config.Default()
		cfg.ApplyDefaults()
		return cfg, "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openTransport connects to the configured log. The in-memory log lives only
// inside a serve process, so it is refused here.
func openTransport(cfg *config.Config) (transport.Transport, io.Closer, error) {
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		rl := transport.NewRedisLog(transport.RedisOptions{
			Addr:      cfg.Transport.Redis.Addr,
			Password:  cfg.Transport.Redis.Password,
			DB:        cfg.Transport.Redis.DB,
			KeyPrefix: cfg.Transport.Redis.KeyPrefix,
		})
		return rl, rl, nil
	case config.TransportSQLite:
		s, err := store.NewSQLiteStore(cfg.Transport.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite transport: %w", err)
		}
		return s, s, nil
	}
	return nil, nil, errSharedTransport
}

func openDatabase(cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.DatabasePath()
	if path == "" {
		return nil, errNoDatabase
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}
