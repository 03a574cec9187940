package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trackgate/internal/ack"
	"trackgate/internal/api/router"
	"trackgate/internal/cache"
	"trackgate/internal/config"
	"trackgate/internal/core/repository"
	"trackgate/internal/core/service"
	"trackgate/internal/forwarder"
	"trackgate/internal/logging"
	"trackgate/internal/protocol/server"
	"trackgate/internal/stats"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trackgate",
		Short:         "GPS tracker ingestion gateway",
		Long:          "trackgate accepts GT06, TK103, H02 and Teltonika devices over TCP and UDP,\nacknowledges their frames and forwards them to an upstream HTTP sink.",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to an optional configuration file")
	rootCmd.Flags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gatewayStats := stats.New(cfg.ProtocolNames()...)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		gatewayStats,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	repo, mongoClient, err := deviceRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}()
	}

	redisCache, err := cache.Connect(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	devices := service.NewDeviceService(repo, redisCache, cfg.DeviceCacheSize, cfg.DeviceTokenTTL, logger)

	fwd := forwarder.New(forwarder.Config{
		URL:          cfg.UpstreamURL,
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseBackoff:  cfg.Retry.BaseBackoff,
		MaxBackoff:   cfg.Retry.MaxBackoff,
		Timeout:      cfg.ForwardTimeout,
		DrainTimeout: cfg.ShutdownTimeout,
	}, upstreamTokens(cfg), devices, gatewayStats, forwarder.NewMetrics(reg), logger)

	manager, err := server.NewManager(endpoints(cfg), server.Options{
		MaxFrameSize:   cfg.MaxFrameSize,
		ReadBufferSize: cfg.ReadBufferSize,
		IdleTimeout:    cfg.IdleTimeout,
	}, server.Deps{
		Responder: ack.NewResponder(),
		Sink:      fwd,
		Stats:     gatewayStats,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := manager.Listen(); err != nil {
		return err
	}

	for _, name := range cfg.ProtocolNames() {
		fields := []zap.Field{zap.String("protocol", name)}
		if addr := manager.TCPAddr(name); addr != nil {
			fields = append(fields, zap.Stringer("tcp", addr))
		}
		if addr := manager.UDPAddr(name); addr != nil {
			fields = append(fields, zap.Stringer("udp", addr))
		}
		logger.Info("protocol listening", fields...)
	}

	httpServer := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           router.NewRouter(gatewayStats, reg, cfg.StatusToken, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("trackgate starting",
		zap.String("version", Version),
		zap.String("upstream", cfg.UpstreamURL),
		zap.String("health_addr", cfg.HealthAddr),
		zap.Int("workers", cfg.Workers))

	// The forwarder outlives the listeners so frames accepted during
	// shutdown can still drain.
	fwdCtx, stopForwarder := context.WithCancel(context.Background())
	defer stopForwarder()
	fwdDone := make(chan error, 1)
	go func() { fwdDone <- fwd.Run(fwdCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		return stats.NewReporter(gatewayStats, cfg.StatsInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		if cfg.HealthAddr == "" {
			return nil
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	logger.Info("listeners stopped, draining forward queue")

	stopForwarder()
	if err := <-fwdDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("forwarder stopped with error", zap.Error(err))
	}

	snap := gatewayStats.Snapshot()
	logger.Info("trackgate stopped",
		zap.Uint64("frames_parsed", snap.TotalFramesParsed()),
		zap.Uint64("frames_forwarded", snap.FramesForwarded),
		zap.Uint64("forward_failures", snap.ForwardFailures))
	return runErr
}

func deviceRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.DeviceRepository, *mongo.Client, error) {
	if !cfg.Mongo.Enabled() {
		logger.Info("MONGODB_URI not set, using in-memory device registry")
		return repository.NewInMemoryDeviceRepository(), nil, nil
	}

	client, db, err := config.ConnectMongoDB(ctx, cfg.Mongo, logger)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewMongoDeviceRepository(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ensure device indexes: %w", err)
	}
	return repo, client, nil
}

func upstreamTokens(cfg *config.Config) forwarder.TokenSource {
	if cfg.UpstreamJWTSecret != "" {
		return forwarder.NewJWTSource(cfg.UpstreamJWTSecret, cfg.UpstreamJWTIssuer, cfg.UpstreamJWTTTL)
	}
	return forwarder.StaticToken(cfg.UpstreamToken)
}

// endpoints maps configured ports to listen addresses. Port 0 disables a
// transport.
func endpoints(cfg *config.Config) []server.Endpoint {
	var eps []server.Endpoint
	for _, name := range cfg.ProtocolNames() {
		ports := cfg.Protocols[name]
		ep := server.Endpoint{Protocol: name}
		if ports.TCP > 0 {
			ep.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(ports.TCP))
		}
		if ports.UDP > 0 {
			ep.UDPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(ports.UDP))
		}
		eps = append(eps, ep)
	}
	return eps
}
