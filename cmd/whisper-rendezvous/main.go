package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/damianfilipek81/whisper/pkg/config"
	"github.com/damianfilipek81/whisper/pkg/observability"
	"github.com/damianfilipek81/whisper/pkg/swarm/rendezvous"
	transportquic "github.com/damianfilipek81/whisper/pkg/transport/quic"
)

// whisper-rendezvous is a standalone bootstrap server: a TTL'd topic
// directory that whisper nodes announce to and look peers up from.
func main() {
	listen := flag.String("listen", ":7340", "QUIC address to listen on")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	logger, err := observability.SetupLogger(config.LogConfig{
		Level:   *logLevel,
		Format:  "console",
		Outputs: []string{"stdout"},
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	tr, err := transportquic.New()
	if err != nil {
		zap.L().Fatal("failed to build transport", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rendezvous.NewServer(tr)
	if err := srv.Serve(ctx, *listen); err != nil {
		zap.L().Fatal("rendezvous server failed", zap.Error(err))
	}
}
