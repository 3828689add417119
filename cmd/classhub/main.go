package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"classhub/internal/app"
	"classhub/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "classhub",
		Short: "Classhub real-time classroom server",
		Long:  "Classhub serves live classroom rooms over websockets and the session feed API.",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the classhub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.HTTPPort = port
			}
			if dbPath, _ := cmd.Flags().GetString("database"); dbPath != "" {
				cfg.DatabasePath = dbPath
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.LogLevel = level
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	serveCmd.Flags().Int("port", 0, "HTTP listen port (overrides HTTP_PORT)")
	serveCmd.Flags().String("database", "", "SQLite database path (overrides DATABASE_PATH)")
	serveCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run starts the application and blocks until SIGINT or SIGTERM, then
// shuts down gracefully.
func run(cfg *config.Config) error {
	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		return err
	}
	return <-errCh
}
