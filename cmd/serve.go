package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/botmd/internal/api"
	"github.com/JakeFAU/botmd/internal/config"
	"github.com/JakeFAU/botmd/internal/telemetry"
	"github.com/JakeFAU/botmd/pkg/botmd"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Markdown reverse proxy",
		Long: `Starts an HTTP server in front of server.upstream_url. Requests from
agents are answered with Markdown rendered from the upstream page; all other
traffic is proxied unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if port > 0 {
				cfg.Server.Port = port
			}
			if cfg.Telemetry.Enabled {
				tp, err := telemetry.InitTracerProvider(cmd.Context(), cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio)
				if err != nil {
					return fmt.Errorf("tracer init failed: %w", err)
				}
				defer func() {
					if err := tp.Shutdown(context.Background()); err != nil {
						e.logger.Warn("tracer shutdown failed", zap.Error(err))
					}
				}()
			}
			handler, err := buildHandler(cfg, e.logger)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, ln, handler, cfg.Server, e.logger)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// buildHandler wires the botmd engine, the upstream proxy and the API router.
func buildHandler(cfg config.Config, logger *zap.Logger) (http.Handler, error) {
	if cfg.Server.UpstreamURL == "" {
		return nil, errors.New("server.upstream_url is required")
	}
	bc, err := cfg.ToBotmd(logger.Named("botmd"))
	if err != nil {
		return nil, err
	}
	// Bots get the upstream's page no matter which Host they sent.
	bc.FetchOrigin = cfg.Server.UpstreamURL
	bc.PublicOrigin = cfg.Server.PublicURL
	engine, err := botmd.New(bc)
	if err != nil {
		return nil, fmt.Errorf("init botmd: %w", err)
	}
	proxy, err := api.NewProxy(cfg.Server.UpstreamURL, logger.Named("proxy"))
	if err != nil {
		return nil, err
	}
	logger.Info("botmd configured",
		zap.String("upstream", cfg.Server.UpstreamURL),
		zap.String("public_url", cfg.Server.PublicURL),
		zap.Bool("enabled", engine.Config().Enabled),
		zap.String("converter", engine.Config().Converter),
		zap.Bool("cache", engine.Config().Cache.Enabled),
	)
	return api.NewServer(engine, proxy, cfg, logger.Named("api")).Handler(), nil
}

// serve runs handler on ln until ctx is canceled, then drains connections
// for at most ShutdownTimeout.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, sc config.ServerConfig, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: sc.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx := context.Background()
		if sc.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, sc.ShutdownTimeout)
			defer cancel()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	})
	return g.Wait()
}
