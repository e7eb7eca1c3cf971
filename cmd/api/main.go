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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"tiernet.org/internal/auth"
	"tiernet.org/internal/config"
	"tiernet.org/internal/httpapi"
	"tiernet.org/internal/network"
	"tiernet.org/internal/notify"
	"tiernet.org/internal/obs"
	"tiernet.org/internal/reconcile"
	"tiernet.org/internal/store/pg"
	"tiernet.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, probe, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	live := stream.New()
	dispatchOpts := []notify.Option{notify.WithStream(live), notify.WithLogger(logger.Named("notify"))}
	if cfg.AMQPURL != "" {
		producer, err := notify.NewProducer(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			logger.Fatal("connect broker", zap.Error(err))
		}
		defer producer.Close()
		dispatchOpts = append(dispatchOpts, notify.WithPublisher(producer))
	}
	dispatcher := notify.NewDispatcher(store.Notifications(), dispatchOpts...)

	svc := network.NewService(store,
		network.WithNotifier(dispatcher),
		network.WithLogger(logger.Named("network")),
		network.WithSettings(cfg.Settings()),
	)

	var scheduler *reconcile.Scheduler
	if cfg.SchedulerEnabled {
		jobs := reconcile.NewJobs(svc, logger.Named("reconcile"), 5*time.Minute)
		scheduler = reconcile.NewScheduler(jobs, logger.Named("reconcile"), cfg.Schedules())
		scheduler.Start()
	}

	signer, err := auth.NewSigner(cfg.AuthSecret)
	if err != nil {
		logger.Fatal("auth signer", zap.Error(err))
	}
	api := httpapi.New(svc, signer,
		httpapi.WithStream(live),
		httpapi.WithReadyProbe(probe),
		httpapi.WithVersion(version),
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open, so no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	health := httpapi.NewGRPCHealth(probe, logger.Named("grpc"))
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	go health.Watch(ctx, 10*time.Second)

	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("starting tiernet-api",
			zap.String("version", version),
			zap.String("http_addr", srv.Addr),
			zap.String("grpc_addr", cfg.GRPCAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("sweeps still running at shutdown")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to the
// in-memory store otherwise. An empty tier catalogue is seeded from TIERS_FILE.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (network.Store, httpapi.ReadyProbe, func(), error) {
	var (
		store network.Store
		probe httpapi.ReadyProbe
		done  = func() {}
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, probe, done, err
		}
		store, probe = pgStore, httpapi.ReadyProbe{DB: pgStore.DB()}
		done = func() { _ = pgStore.Close() }
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = network.NewInMemory()
	}

	existing, err := store.Tiers().List(ctx)
	if err != nil {
		done()
		return nil, probe, func() {}, err
	}
	if len(existing) == 0 {
		tiers, err := network.LoadCatalogue(cfg.TiersFile)
		if err != nil {
			done()
			return nil, probe, func() {}, err
		}
		if err := network.SeedTiers(ctx, store.Tiers(), tiers); err != nil {
			done()
			return nil, probe, func() {}, err
		}
		logger.Info("tier catalogue seeded", zap.Int("tiers", len(tiers)))
	}
	return store, probe, done, nil
}
