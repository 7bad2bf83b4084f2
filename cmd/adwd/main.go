// Command adwd is the orchestrator daemon: it serves the trigger and
// broadcast HTTP/WS surface, runs the periodic supervisor, and
// exposes a migrate subcommand for the durable state store, following
// the teacher's cobra-based cmd/main layout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvnkishore11/agentickanban/internal/api"
	"github.com/kvnkishore11/agentickanban/internal/config"
	"github.com/kvnkishore11/agentickanban/internal/db"
	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/internal/supervisor"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "adwd",
	Short: "AI developer workflow orchestrator daemon",
	Long:  "adwd dispatches, tracks, and broadcasts the lifecycle of AI developer workflow runs.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator HTTP and WebSocket server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the adwd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("adwd " + version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfigAndDB() (*config.Config, *db.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.Initialize(cfg.DebugMode)

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return cfg, database, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, database, err := loadConfigAndDB()
	if err != nil {
		return err
	}
	defer database.Close()
	logging.Info("migrate: database %s is up to date", cfg.DatabaseURL)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, database, err := loadConfigAndDB()
	if err != nil {
		return err
	}
	defer database.Close()

	var stateFilePath func(string) string
	if !cfg.DBOnly {
		stateFilePath = cfg.StateFilePath
	}
	repos := repositories.New(database, !cfg.DBOnly, stateFilePath)

	server := api.New(cfg, repos)

	tickInterval := time.Duration(cfg.SupervisorTickSeconds) * time.Second
	stuckThreshold := time.Duration(cfg.StuckThresholdMinutes) * time.Minute
	super := supervisor.New(server.Conns(), repos, tickInterval, stuckThreshold)
	if err := super.Start(); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	defer super.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("adwd: serving on :%d", cfg.BackendPort)
	return server.Start(ctx)
}
