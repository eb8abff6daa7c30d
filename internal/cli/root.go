// Package cli implements the dst-flow CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/rcliao/dst-flow/internal/config"
	"github.com/rcliao/dst-flow/internal/logging"
	"github.com/rcliao/dst-flow/internal/store"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "dst-flow",
	Short: "Digital stress test study runner",
	Long:  "Runs the digital stress test study flow over HTTP, archives every session in SQLite and uploads results to the study backend.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./dst-flow.yaml or ./config/dst-flow.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Archive database path (default: store.path from config)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() *config.Loader {
	l, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	return l
}

func getDBPath(cfg config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Store.Path
}

func openStore() (*store.SQLiteStore, string) {
	path := getDBPath(loadConfig().Config())
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		exitErr("open store", err)
	}
	return s, path
}

func newLogger(cfg config.LoggingConfig) *logging.Logger {
	log, err := logging.New(logging.Options{
		Level:      cfg.Level,
		Directory:  cfg.Directory,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	if err != nil {
		exitErr("init logger", err)
	}
	return log
}

func textOutput() bool {
	return formatFlag == "text"
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
