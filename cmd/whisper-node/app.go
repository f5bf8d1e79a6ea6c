package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/config"
	"github.com/damianfilipek81/whisper/pkg/core"
	"github.com/damianfilipek81/whisper/pkg/metrics"
	"github.com/damianfilipek81/whisper/pkg/observability"
	"github.com/damianfilipek81/whisper/pkg/rpc"
	"github.com/damianfilipek81/whisper/pkg/swarm"
	"github.com/damianfilipek81/whisper/pkg/swarm/rendezvous"
	transportquic "github.com/damianfilipek81/whisper/pkg/transport/quic"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("whisper-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enable {
		m = metrics.New(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				zap.L().Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
		zap.L().Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
	}

	tr, err := transportquic.New()
	if err != nil {
		zap.L().Error("failed to build transport", zap.Error(err))
		return 1
	}
	if len(cfg.Swarm.Bootstrap) == 0 {
		zap.L().Warn("no bootstrap servers configured; peer discovery will not work")
	}
	dir := rendezvous.NewClient(tr, cfg.Swarm.Bootstrap,
		time.Duration(cfg.Swarm.AnnounceTTLS)*time.Second)
	defer dir.Close()

	svc := core.New(core.Options{
		Transport: tr,
		Directory: dir,
		Swarm: swarm.Config{
			ListenAddr:       cfg.Swarm.Listen,
			AnnounceAddr:     cfg.Swarm.Announce,
			AnnounceInterval: time.Duration(cfg.Swarm.AnnounceIntervalS) * time.Second,
			AnnounceTTL:      time.Duration(cfg.Swarm.AnnounceTTLS) * time.Second,
			DialTimeout:      time.Duration(cfg.Swarm.DialTimeoutS) * time.Second,
		},
		Metrics: m,
	})
	if _, err := svc.Init(ctx, cfg.StoragePath); err != nil {
		zap.L().Error("failed to initialize service", zap.Error(err))
		return 1
	}

	ln, err := net.Listen("tcp", cfg.RPC.Listen)
	if err != nil {
		zap.L().Error("failed to bind rpc listener", zap.Error(err))
		_ = svc.Destroy(context.Background())
		return 1
	}
	srv := rpc.NewServer(svc)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			zap.L().Error("rpc server failed", zap.Error(err))
			stop()
		}
	}()

	zap.L().Info("node is running; press Ctrl+C to exit",
		zap.String("rpc", ln.Addr().String()))
	<-ctx.Done()

	zap.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Destroy(shutdownCtx); err != nil {
		zap.L().Warn("shutdown error", zap.Error(err))
	}
	return 0
}
