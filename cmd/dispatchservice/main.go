package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/livedispatch/internal/config"
	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/handler"
	"github.com/example/livedispatch/internal/dispatch/hub"
	"github.com/example/livedispatch/internal/dispatch/link"
	"github.com/example/livedispatch/internal/dispatch/session"
	"github.com/example/livedispatch/internal/dispatch/token"
	"github.com/example/livedispatch/internal/dispatch/view"
	"github.com/example/livedispatch/internal/gateway"
	"github.com/example/livedispatch/internal/http/middleware"
	"github.com/example/livedispatch/internal/notify"
	"github.com/example/livedispatch/internal/relay"
	"github.com/example/livedispatch/internal/telemetry"
	"github.com/example/livedispatch/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	logger := observability.SetupLogger("dispatch-service")
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load", zap.Error(err))
	}

	shutdown, err := observability.SetupTracer(ctx, "dispatch-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	clock := domain.SystemClock{}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var tokens domain.TokenStore
	var fixes domain.FixCache
	var limiter *middleware.RateLimiter
	if redisClient != nil {
		tokens = token.NewRedisTokenStore(redisClient, "")
		fixes = token.NewRedisFixCache(redisClient, "")
		limiter = middleware.NewRateLimiter(redisClient)
	} else {
		logger.Warn("redis not configured, links will not survive restarts")
		tokens = token.NewMemoryTokenStore(clock)
		fixes = token.NewMemoryFixCache(clock)
	}

	var gw domain.Gateway
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		gw = gateway.NewPostgres(db)
	} else {
		logger.Warn("postgres not configured, using empty in-memory gateway")
		gw = gateway.NewMemory()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("dispatchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}
	events := relay.New(natsConn, logger.Named("relay"), clock, relay.Config{})
	go func() {
		if err := events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped", zap.Error(err))
		}
	}()

	var mailer domain.EmailSender = notify.Noop{}
	if natsConn != nil {
		mailer = notify.NewEventEmail(events, clock, logger.Named("notify"))
	}

	resolver := session.NewResolver(tokens)
	broadcastHub := hub.New(gw, fixes, events, clock, logger.Named("hub"), hub.Config{FixTTL: cfg.FixTTL})
	wsHandler := hub.NewWSHandler(broadcastHub, resolver, logger.Named("ws"), cfg.CORSOrigins)

	views := view.New(resolver, gw, fixes, clock)
	links := link.New(tokens, gw, mailer, events, clock, logger.Named("link"), link.Config{
		TTL:        cfg.LinkTTL,
		DomainRoot: cfg.DomainRoot,
		ReturnLink: cfg.ReturnLink,
	})

	httpHandler := handler.NewHTTP(views, links, wsHandler, limiter, handler.Config{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		MagicLinkPerMin: cfg.MagicLinkPerMin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           observability.MetricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcSrv *grpc.Server
	if cfg.TelemetryGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.TelemetryGRPCAddr)
		if err != nil {
			logger.Fatal("telemetry listen", zap.Error(err))
		}
		grpcSrv = grpc.NewServer()
		telemetry.RegisterTelemetryServer(grpcSrv, telemetry.NewServer(fixes, clock, logger.Named("telemetry"), cfg.FixTTL))
		go func() {
			logger.Info("telemetry ingest listening", zap.String("addr", cfg.TelemetryGRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("telemetry server", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("dispatch service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
}
