// Package main provides the entry point for the hermes mail dispatcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LotuxPunk/Hermes"
	"github.com/LotuxPunk/Hermes/internal/config"
	"github.com/LotuxPunk/Hermes/internal/httpapi"
	"github.com/LotuxPunk/Hermes/internal/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "hermes",
		Short: "Hermes - templated mail dispatcher",
		Long:  "Sends templated transactional mail and contact forms through Resend, SendGrid, Mailgun, SES or SMTP.",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(hermes.GetVersionInfo().String())
		},
	}
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info().
		Str("version", hermes.GetVersionInfo().Version).
		Str("config", configFile).
		Msg("starting hermes")

	dispatcher, err := hermes.New(cfg.Dispatcher(logger))
	if err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := httpapi.New(httpapi.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, dispatcher, logger)

	serveErr := server.Start(ctx)
	if serveErr != nil {
		logger.Error().Err(serveErr).Msg("HTTP server error")
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher shutdown")
		return err
	}
	return serveErr
}
