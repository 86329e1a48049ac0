package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/handlers"
	"github.com/example/face-attendance/internal/index"
	"github.com/example/face-attendance/internal/metrics"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Run schema migration before serving")
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if serveMigrate {
		if err := runMigrate(ctx, a); err != nil {
			return err
		}
	}

	metrics.Register()

	rec, err := a.buildRecognition(ctx, a.cfg.Matcher.Strategy)
	if err != nil {
		logger.Error("failed to build recognition service", zap.Error(err))
		return err
	}

	if rec.index != nil {
		warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := rec.index.Refresh(warmCtx); err != nil {
			// The first lookup retries the build.
			logger.Warn("initial gallery index build failed", zap.Error(err))
		} else {
			logger.Info("gallery index ready", zap.Int("faces", rec.index.Len()))
		}
		cancel()

		refresher, err := index.StartRefresher(rec.index, a.cfg.Matcher.RefreshInterval, time.Minute, logger)
		if err != nil {
			return err
		}
		defer refresher.Stop()
	} else if faces, err := rec.gallery.Count(ctx); err != nil {
		logger.Warn("failed to count registered faces", zap.Error(err))
	} else {
		logger.Info("gallery ready", zap.Int64("faces", faces))
	}

	if a.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	authMiddleware := auth.JWTMiddleware(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTAudience)
	router := handlers.NewRouter(rec.useCase, authMiddleware, handlers.Options{
		MaxUploadSize:  a.cfg.HTTP.MaxUploadBytes,
		AllowedOrigins: a.cfg.CORS.AllowedOrigins,
		TeacherRole:    a.cfg.Auth.TeacherRole,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
	}, logger)

	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	logger.Info("attendance API listening",
		zap.String("addr", server.Addr),
		zap.String("strategy", a.cfg.Matcher.Strategy),
		zap.Float64("threshold", rec.useCase.Threshold()))
	if err := serveHTTPServer(server, a.cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
