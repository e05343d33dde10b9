package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"slotbook/internal/availability"
	"slotbook/internal/cache"
	"slotbook/internal/calendar/dav"
	"slotbook/internal/calendar/google"
	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/service/booking"
	"slotbook/internal/store/postgres"
	grpcTransport "slotbook/internal/transport/grpc"
	httpTransport "slotbook/internal/transport/http"
	"slotbook/internal/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "slotbook-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "slotbook-server"),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		PingTimeout:     cfg.DBPingTimeout,
		SlowQuery:       cfg.DBSlowQuery,
	}, log)
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed; slot cache will miss until it recovers", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
	}

	templates := postgres.NewTemplateRepo(db)
	groups := postgres.NewGroupRepo(db)
	links := postgres.NewLinkRepo(db)
	bookings := postgres.NewBookingRepo(db)

	sources := map[domain.CalendarProvider]availability.BusyIntervalSource{}
	writers := map[domain.CalendarProvider]booking.EventWriter{}
	if cfg.GoogleTokenFile != "" {
		gc, err := google.NewClient(ctx, google.Config{
			ClientID:        cfg.GoogleClientID,
			ClientSecret:    cfg.GoogleClientSecret,
			CredentialsFile: cfg.GoogleCredentialsFile,
			TokenFile:       cfg.GoogleTokenFile,
		}, log)
		if err != nil {
			log.Error("google calendar client failed", slog.Any("err", err))
			os.Exit(1)
		}
		sources[domain.CalendarProviderGoogle] = gc
		writers[domain.CalendarProviderGoogle] = gc
	}
	if cfg.CalDAVEndpoint != "" {
		dc, err := dav.NewClient(dav.Config{
			Endpoint: cfg.CalDAVEndpoint,
			Username: cfg.CalDAVUsername,
			Password: cfg.CalDAVPassword,
			Timeout:  cfg.CalDAVTimeout,
		}, log)
		if err != nil {
			log.Error("caldav client failed", slog.Any("err", err))
			os.Exit(1)
		}
		sources[domain.CalendarProviderCalDAV] = dc
		writers[domain.CalendarProviderCalDAV] = dc
	}
	log.Info("calendar providers configured", slog.Int("count", len(sources)))

	policy, err := availability.ParseFallbackPolicy(cfg.FallbackPolicy)
	if err != nil {
		log.Error("invalid fallback policy", slog.Any("err", err))
		os.Exit(1)
	}

	slotCache := cache.NewRedisSlotCache(rdb, cfg.CacheTTL)
	publisher := cache.NewRedisPublisher(rdb, cfg.CacheUpdatesTopic)

	agg := availability.NewAggregator(links, sources, availability.AggregatorConfig{
		SourceTimeout:     cfg.SourceTimeout,
		MaxAttempts:       cfg.SourceMaxAttempts,
		RetryBackoff:      cfg.SourceRetryBackoff,
		MaxConcurrency:    cfg.SourceMaxConcurrency,
		RequestsPerSecond: cfg.SourceRatePerSecond,
		Burst:             cfg.SourceRateBurst,
	}, log)
	engine := availability.NewEngine(templates, groups, bookings, agg,
		availability.WithFallbackPolicy(policy),
		availability.WithSlotCache(slotCache),
		availability.WithLogger(log),
	)
	refresher := cache.NewRefresher(engine, slotCache, publisher, cfg.CacheHorizonDays, log)
	defer refresher.Wait()

	svc := booking.NewService(engine, bookings, links, writers,
		booking.WithLogger(log),
		booking.WithHook(webhook.NewClient(cfg.WebhookTimeout, log)),
		booking.WithNotifier(refresher),
		booking.WithPublicBaseURL(cfg.PublicBaseURL),
		booking.WithWriteRetry(cfg.WriteRetryAttempts, cfg.WriteRetryBackoff),
		booking.WithAttemptTimeout(cfg.BookingAttemptTimeout),
	)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			log.Warn("task client close failed", slog.Any("err", err))
		}
	}()
	queue := cache.NewRefreshQueue(taskClient)

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      cache.NewTaskLogger(log),
	})
	mux := asynq.NewServeMux()
	cache.NewTaskHandlers(refresher, groups, log).Register(mux)
	if err := worker.Start(mux); err != nil {
		log.Error("task worker start failed", slog.Any("err", err))
		os.Exit(1)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: cache.NewTaskLogger(log)})
	if err := cache.RegisterSchedule(scheduler, cfg.CacheRefreshCron); err != nil {
		log.Error("refresh schedule failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		log.Error("scheduler start failed", slog.Any("err", err))
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterSlotsServiceServer(grpcServer, grpcTransport.NewSlotsServer(engine, svc, queue, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpTransport.NewRouter(httpTransport.NewHandler(engine, svc, queue, log), httpTransport.RouterConfig{AllowOrigins: cfg.HTTPAllowOrigins}, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	log.Info("servers started", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("http_addr", cfg.HTTPAddr))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	healthServer.Shutdown()
	shutdown(log, grpcServer, httpServer, cfg.ShutdownTimeout)
	scheduler.Shutdown()
	worker.Shutdown()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, hs *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("http shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
