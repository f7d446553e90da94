package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/chessbuilder"
	"github.com/park285/cheese-board/internal/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.ListenAddr = serveAddr
		}
		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, err := chessbuilder.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := deps.Close(); err != nil {
				logger.Warn("shutdown_error", zap.Error(err))
			}
		}()

		n, err := deps.Service.Resume(ctx)
		if err != nil {
			logger.Warn("resume_failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("sessions_resumed", zap.Int("count", n))
		}

		srv := httpapi.NewServer(deps.Service,
			httpapi.WithLogger(logger),
			httpapi.WithRequestTimeout(cfg.Server.RequestTimeout),
		)
		if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		logger.Info("server_stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// commandContext is the command's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
