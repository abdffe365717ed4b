package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pawpilot/chat-api/internal/finetune"
	"github.com/pawpilot/chat-api/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP server and the fine-tuning poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.New(env.Engine, env.Store, version).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		poller := finetune.NewPoller(env.Store, env.FineTune, finetune.PollerConfig{
			BaseModel:      cfg.Anthropic.BaseModel,
			MinRating:      cfg.FineTune.MinExampleRating,
			Interval:       time.Duration(cfg.FineTune.PollIntervalSecs) * time.Second,
			RunningTimeout: time.Duration(cfg.FineTune.RunningTimeoutMins) * time.Minute,
		})

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("http server listening", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			return poller.Run(gctx)
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		zap.L().Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
