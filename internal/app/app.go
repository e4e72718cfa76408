package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordering/internal/health"
	"github.com/vladislavdragonenkov/ordering/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/ordering/internal/service/grpc"
	httpsvc "github.com/vladislavdragonenkov/ordering/internal/service/http"
	"github.com/vladislavdragonenkov/ordering/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordering/internal/service/ordering"
	"github.com/vladislavdragonenkov/ordering/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordering/internal/version"
)

const (
	readHeaderTimeout  = 5 * time.Second
	outboxFlushTimeout = 5 * time.Second
)

// Run поднимает HTTP API, gRPC, сервер метрик и фоновые воркеры и блокируется до отмены ctx.
// При отмене возвращает ctx.Err() после graceful shutdown всех компонентов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithField("component", "app")
	logger.WithField("version", version.String()).Info("starting ordering service")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// Без Kafka сервис работает, события уходят в лог.
	producer, _ := initKafkaProducer(cfg.kafkaBrokerList(), cfg.KafkaClientID, logger)
	defer closeKafka(producer, logger)
	publisher, dlqPublisher := outboxPublishers(cfg, producer, logger)

	idemMetrics := metrics.NewIdempotencyMetrics(prometheus.DefaultRegisterer)
	svc := ordering.New(deps.store,
		ordering.WithLogger(logger.WithField("layer", "ordering")),
		ordering.WithMetrics(metrics.NewOrderingMetrics()),
	)

	apiHandler := httpsvc.NewHandler(svc, logger.WithField("layer", "http"),
		httpsvc.WithMetrics(metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)),
		httpsvc.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL, idemMetrics),
		httpsvc.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	apiSrv := &http.Server{Handler: apiHandler.Routes(), ReadHeaderTimeout: readHeaderTimeout}

	grpcServer, grpcHealth := newGRPCServer(svc, deps, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlqPublisher != nil {
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(dlqPublisher))
	}
	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher, workerOpts...)
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithMetrics(idemMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http api: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthHandler.SetDraining(true)
		grpcHealth.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		shutdownGRPC(shutdownCtx, grpcServer, logger)
		shutdownHTTP(shutdownCtx, apiSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Запросы, завершившиеся во время остановки, могли оставить события в outbox.
	flushCtx, cancel := context.WithTimeout(context.Background(), outboxFlushTimeout)
	defer cancel()
	outboxWorker.Drain(flushCtx)

	return ctx.Err()
}

// newGRPCServer собирает gRPC сервер с метриками, health и reflection.
func newGRPCServer(svc *ordering.Service, deps *runtimeDependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	orderingService := grpcsvc.NewOrderingService(svc, deps.idempotencyRepo, logger.WithField("layer", "grpc"))
	grpcsvc.RegisterOrderingServiceServer(server, orderingService)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	return server, healthServer
}

// shutdownGRPC ждёт завершения активных RPC, по истечении ctx обрывает их.
func shutdownGRPC(ctx context.Context, server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownHTTP(shutdownCtx, srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(ctx context.Context, srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
