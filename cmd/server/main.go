package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/technosupport/ts-licensing/internal/activation"
	"github.com/technosupport/ts-licensing/internal/api"
	"github.com/technosupport/ts-licensing/internal/audit"
	"github.com/technosupport/ts-licensing/internal/auth"
	"github.com/technosupport/ts-licensing/internal/config"
	"github.com/technosupport/ts-licensing/internal/data"
	"github.com/technosupport/ts-licensing/internal/events"
	"github.com/technosupport/ts-licensing/internal/keystore"
	"github.com/technosupport/ts-licensing/internal/license"
	"github.com/technosupport/ts-licensing/internal/middleware"
	"github.com/technosupport/ts-licensing/internal/ratelimit"
	"github.com/technosupport/ts-licensing/internal/tokens"
)

const serviceName = "ts-licensing"

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(c config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(configPath string) error {
	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging).With("service", serviceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. DB Init
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		// The engine reports store faults per request, so start anyway.
		logger.Warn("db ping failed at startup", "error", err)
	}

	// Shared Redis Client
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	models := data.NewModels(db)

	// 3. Audit
	spool, err := audit.NewSpool(cfg.Audit.SpoolDir, cfg.Audit.SpoolMaxMB)
	if err != nil {
		return fmt.Errorf("audit spool: %w", err)
	}
	auditService := audit.NewService(db, spool, logger)
	auditService.StartReplayer(ctx, cfg.Audit.ReplayInterval)

	recorder := audit.NewRecorder(auditService, audit.RecorderOptions{
		Workers:      cfg.Audit.Workers,
		QueueSize:    cfg.Audit.QueueSize,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Tracker:      audit.NewFailureTracker(cfg.Audit.TrackerKeys, cfg.Audit.TrackerWindow),
		Logger:       logger,
	})
	fingerprints := audit.NewFingerprinter(cfg.Audit.FingerprintSalt)

	// 4. Key store, activation, engine
	adapter := keystore.NewAdapter(models.Licenses, models.ResellerKeys, keystore.Options{
		QueryTimeout: cfg.Store.QueryTimeout,
		RetryBackoff: cfg.Store.RetryBackoff,
		Logger:       logger,
	})

	var locker activation.Locker = activation.NewLocalLocker()
	if cfg.Activation.LockBackend == config.LockBackendRedis {
		locker = &activation.FallbackLocker{
			Primary:  activation.NewRedisLocker(rdb, cfg.Activation.LockTTL, cfg.Activation.LockRetry, logger),
			Fallback: locker,
			Logger:   logger,
		}
	}
	activations := activation.NewManager(models.Activations, locker, activation.Options{
		WriteTimeout: cfg.Activation.WriteTimeout,
		Logger:       logger,
	})

	deps := license.Deps{
		Resolver:     license.NewResolver(adapter),
		Expiry:       models.Licenses,
		Activations:  activations,
		Audit:        recorder,
		Fingerprints: fingerprints,
		WriteTimeout: cfg.Activation.WriteTimeout,
		Logger:       logger,
	}

	// Validation events
	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, serviceName, logger)
		if err != nil {
			logger.Warn("nats connect failed, validation events disabled", "error", err)
		} else {
			defer nc.Close()
			async := events.NewAsync(events.NewNATSPublisher(nc, cfg.NATS.Subject, cfg.NATS.MaxRetries), cfg.NATS.QueueSize, logger)
			go async.Run(ctx)
			deps.Events = async
		}
	}
	engine := license.NewEngine(deps)

	// 5. HTTP
	tokenMgr := tokens.NewManager(cfg.JWT.SigningKey)
	jwtAuth := middleware.NewJWTAuth(tokenMgr, auth.NewRedisBlacklist(rdb))

	rl := middleware.NewRateLimitMiddleware(ratelimit.NewLimiter(rdb, cfg.Audit.FingerprintSalt), cfg.RateLimit, logger)
	for _, l := range rl.LocalLimiters() {
		go l.Cleanup(ctx, time.Minute)
	}
	config.Watch(ctx, configPath, logger, func(c *config.Config) {
		rl.UpdateConfig(c.RateLimit)
	})

	router := api.NewRouter(api.RouterDeps{
		Licenses: api.NewLicenseHandler(engine, logger),
		Audit: &api.AuditHandler{
			Service:       auditService,
			Fingerprints:  fingerprints,
			RetentionDays: cfg.Audit.RetentionDays,
			Log:           logger,
		},
		Activations: api.NewActivationHandler(activations, logger),
		Health: &api.HealthHandler{Checks: map[string]api.PingFunc{
			"database": db.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}},
		Auth:           jwtAuth,
		RateLimit:      rl,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. gRPC health
	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCLogging(logger),
		middleware.NewGRPCAuthInterceptor(jwtAuth,
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
		).Unary(),
	))
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("listener failed", "error", err)
	}

	// 7. Graceful shutdown
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("audit recorder did not drain", "error", err)
	}
	return nil
}
