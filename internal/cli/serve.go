package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AakashB275/BrandModel/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the executor and the connectivity monitor",
		Long: `Serve the intent API and the event stream, draining the queue whenever
the remote store is reachable.

Examples:
  brandmodel serve
  brandmodel serve --addr :9090 --config prod.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	rt, err := openRuntime(ctx, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.cfg.HTTP.JWTSecret == "" {
		return NewExitError(ExitCommandError, "http.jwt_secret (BRANDMODEL_JWT_SECRET) is required to serve")
	}
	addr := rt.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Core:     rt.core,
			Tokens:   httpapi.NewTokens(rt.cfg.HTTP.JWTSecret, 0),
			Gatherer: rt.registry,
			Logger:   rt.logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.core.Start(gctx)
	})
	g.Go(func() error {
		rt.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("shutdown http server", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	rt.logger.Info("stopped")
	return nil
}
