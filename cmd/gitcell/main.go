package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/odvcencio/gitcell/pkg/config"
	"github.com/odvcencio/gitcell/pkg/server"
	"github.com/odvcencio/gitcell/pkg/store"
)

func main() {
	root := &cobra.Command{
		Use:   "gitcell",
		Short: "Git smart-HTTP server backed by embedded SQLite storage",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("gitcell 0.1.0-dev")
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the smart-HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if dataDir != "" {
				cfg.Storage.Dir = dataDir
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "repository database directory (overrides config)")
	return cmd
}

func serve(cfg config.Config) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(level)

	if cfg.Storage.Dir != "" {
		if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	registry := store.NewRegistry(cfg.Storage.Dir)
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.New(registry, log).Router(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Server.Listen).Info("serving")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
