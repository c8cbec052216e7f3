// Command tglink-server runs the Telegram account-linking HTTP API and its
// gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/tglink/internal/config"
	"github.com/and161185/tglink/internal/crypto"
	"github.com/and161185/tglink/internal/handshake"
	"github.com/and161185/tglink/internal/initdata"
	"github.com/and161185/tglink/internal/limiter"
	"github.com/and161185/tglink/internal/migrate"
	"github.com/and161185/tglink/internal/repository/postgres"
	grpcserver "github.com/and161185/tglink/internal/server/grpc"
	"github.com/and161185/tglink/internal/server/httpapi"
	"github.com/and161185/tglink/internal/service"
	"github.com/and161185/tglink/internal/telegram"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("flood_store", cfg.FloodStore),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ver, err := migrate.Up(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("schema ready", zap.Int64("version", ver))

	db, pool, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	cipher, err := crypto.NewSessionCipher([]byte(cfg.SessionKey))
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}

	var flood limiter.FloodControl = limiter.NewMemory(time.Now)
	if cfg.FloodStore == config.FloodStorePostgres {
		flood = limiter.NewPG(pool)
	}

	sessions := postgres.NewSessionRepo(db)
	dialer := telegram.NewDialer(cfg.TelegramAPIID, cfg.TelegramAPIHash, logger)

	coord := handshake.New(dialer, flood, cipher, sessions, logger, handshake.Options{
		TeardownGrace: cfg.TeardownGrace,
		PendingTTL:    cfg.PendingTTL,
		WaitForSettle: cfg.WaitForSettle,
	})
	defer coord.Close()

	sessionSvc := service.NewSessionService(sessions, cipher, dialer, logger)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Auth:     initdata.New(cfg.BotToken, initdata.WithMaxAge(cfg.InitDataMaxAge)),
			Linker:   coord,
			Sessions: sessionSvc,
			APIKey:   cfg.APIKey,
			Log:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv, hs := grpcserver.New(logger, cfg.Dev)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("listening (grpc)", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		grpcserver.WatchHealth(gctx, hs, db, cfg.HealthInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(httpSrv, grpcSrv.GracefulStop, grpcSrv.Stop, logger)
		return nil
	})

	return g.Wait()
}

// shutdown drains both servers within shutdownTimeout, then forces them closed.
func shutdown(httpSrv *http.Server, graceful, force func(), logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		graceful()
		close(done)
	}()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
		_ = httpSrv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
		force()
	}
}
