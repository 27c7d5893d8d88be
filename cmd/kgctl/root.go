package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dan-solli/kgstore/pkg/config"
	"github.com/dan-solli/kgstore/pkg/kgstore"
	"github.com/dan-solli/kgstore/pkg/store"
)

// app holds the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "kgctl",
		Short: "kgctl: knowledge graph store operations",
		Long: `kgctl inspects, searches, migrates and backs up project knowledge graphs
held in SQLite or PostgreSQL.

Configuration is read from --config (YAML), a .env file, and KG_-prefixed
environment variables such as KG_STORAGE_TYPE and KG_STORAGE_CONNECTION_STRING.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	rootCmd.AddCommand(
		newHealthCmd(a),
		newStatsCmd(a),
		newSearchCmd(a),
		newMigrateCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
	)
	return rootCmd
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(a.stderr)
	return nil
}

// openStore opens the configured store. The returned cleanup closes the store
// and any trace exporter.
func (a *app) openStore(ctx context.Context) (*kgstore.Store, func(), error) {
	kgCfg, exporter, err := a.cfg.KGStore(a.logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := kgstore.Open(ctx, kgCfg)
	if err != nil {
		if exporter != nil {
			exporter.Close()
		}
		return nil, nil, err
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
		if exporter != nil {
			if err := exporter.Close(); err != nil {
				a.logger.Warn("failed to close trace exporter", "error", err)
			}
		}
	}
	return s, cleanup, nil
}

// openProvider opens an additional provider given on the command line.
func (a *app) openProvider(ctx context.Context, storageType, conn string) (store.Provider, error) {
	cfg, err := store.NewConfig(store.StorageType(storageType), conn, store.Options{})
	if err != nil {
		return nil, err
	}
	provider, err := store.New(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s storage: %w", storageType, err)
	}
	return provider, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
