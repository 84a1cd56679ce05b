package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sightline-analytics/costlens/internal/pipeline"
	"github.com/sightline-analytics/costlens/internal/server"
)

var (
	servePort       int
	serveWithWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.New(env.Manager, env.Engine, env.Store, cfg.Server).Router(),
		}

		g, ctx := errgroup.WithContext(ctx)

		// The sqlite deployment runs on an in-memory queue, so the workers
		// must live in this process; --with-worker does the same for
		// single-node postgres setups.
		if serveWithWorker || cfg.Store.Driver == "sqlite" {
			runner := pipeline.NewRunner(env.Queue, env.Stages, cfg.Queue)
			g.Go(func() error {
				return runner.Run(ctx)
			})
			zap.L().Info("in-process workers started")
		}

		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			return srv.Shutdown(cmd.Context())
		})

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "run pipeline workers in this process")
	rootCmd.AddCommand(serveCmd)
}
