package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the choropleth API server",
	Long:  "Loads the precincts and serves styled maps, legends, chunk fetches, exports and overlays over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.loadPrecincts(ctx); err != nil {
			return err
		}
		if cfg.Server.LoadFullOnStart && cfg.Sources.Full != "" {
			stats, err := env.Manager.LoadFull(ctx)
			if err != nil {
				zap.L().Warn("full data load failed, continuing with chunk fetching", zap.Error(err))
			} else {
				zap.L().Info("full data loaded", zap.Int("matched", stats.Matched), zap.Int("values", stats.Values))
			}
		}
		if err := env.initOverlays(ctx); err != nil {
			return err
		}

		srv := server.New(env.Manager, env.Overlays, server.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
		defer srv.Close()

		return startServer(ctx, srv.Handler(), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownSecs := 15
	if cfg != nil && cfg.Server.ShutdownSecs > 0 {
		shutdownSecs = cfg.Server.ShutdownSecs
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSecs)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	<-done
	return nil
}
