// Package cli implements the hippocamp CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcliao/hippocamp/internal/batch"
	"github.com/rcliao/hippocamp/internal/config"
	"github.com/rcliao/hippocamp/internal/embedding"
	"github.com/rcliao/hippocamp/internal/store"
	"github.com/rcliao/hippocamp/internal/validate"
)

var (
	dbPath     string
	configPath string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "hippocamp",
	Short: "Memory store with validated batch operations",
	Long:  "Create, update and deprecate memories in validated, transactional batches. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $HIPPOCAMP_DB or ~/.hippocamp/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.hippocamp/config.yaml)")
	RootCmd.PersistentFlags().String("log-level", "", "Log level (default: $HIPPOCAMP_LOG_LEVEL or info)")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hippocamp", "config.yaml")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// app bundles the components a command needs.
type app struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	analyzer  *embedding.Analyzer
	validator *validate.Validator
	batch     *batch.Service
	log       zerolog.Logger
	closeLog  func() error
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.DB, store.WithVectorDims(cfg.Store.VectorDims))
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}

	analyzer := cfg.Analyzer()
	validator := cfg.Validator(analyzer)
	return &app{
		cfg:       cfg,
		store:     s,
		analyzer:  analyzer,
		validator: validator,
		batch:     batch.New(s, validator, batch.WithPolicy(cfg.Batch), batch.WithLogger(logger)),
		log:       logger,
		closeLog:  closeLog,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.closeLog()
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func exitUnless(ok bool) {
	if !ok {
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// readJSON decodes the file at path, or stdin when path is "-".
func readJSON(path string, v any) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
