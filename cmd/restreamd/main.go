// restreamd turns one live RTSP source into an always-on adaptive DASH
// stream. When the source is unreachable the output keeps playing from
// a built-in filler signal, and the source is retried until it returns.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/dash-restreamer/internal/config"
	"github.com/e7canasta/dash-restreamer/internal/logging"
	"github.com/e7canasta/dash-restreamer/internal/restream"
	"github.com/e7canasta/dash-restreamer/internal/status"
)

const version = "v0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "restreamd %s - live RTSP to adaptive DASH restreamer\n\n", version)
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  restreamd <source-uri> <output-dir>\n\n")
	fmt.Fprintf(os.Stderr, "Example:\n")
	fmt.Fprintf(os.Stderr, "  restreamd rtsp://192.168.1.100:554/stream /var/www/dash\n\n")
	fmt.Fprintf(os.Stderr, "Environment:\n")
	fmt.Fprintf(os.Stderr, "  RESTREAMD_LISTEN  status/metrics bind address (default :9090, off disables)\n")
	fmt.Fprintf(os.Stderr, "  LOG_LEVEL         debug, info, warn, error (default info)\n")
	fmt.Fprintf(os.Stderr, "  LOG_FORMAT        text or json (default text)\n")
}

func main() {
	if len(os.Args) != 3 {
		usage()
		os.Exit(1)
	}
	sourceURI, outputDir := os.Args[1], os.Args[2]

	// .env is optional; real environment always wins.
	_ = config.Load()
	settings := config.FromEnv()
	slog.SetDefault(logging.New(settings.LogLevel, settings.LogFormat))

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		slog.Error("failed to create output directory", "dir", outputDir, "error", err)
		os.Exit(1)
	}

	metrics := status.NewMetrics()
	streamer, err := restream.New(restream.Config{
		SourceURI: sourceURI,
		OutputDir: outputDir,
		Hooks:     metrics.Hooks(),
	})
	if err != nil {
		slog.Error("failed to build restreamer", "error", err)
		os.Exit(1)
	}

	slog.Info("restreamd starting",
		"version", version,
		"session_id", streamer.SessionID(),
		"source", sourceURI,
		"output_dir", outputDir,
		"listen", settings.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The session ending for any reason also brings the status
		// server down.
		defer stop()
		return streamer.Run(gctx)
	})
	if settings.ListenAddr != "off" {
		g.Go(func() error {
			return status.Serve(gctx, status.ServerConfig{
				Addr:    settings.ListenAddr,
				Handler: status.NewRouter(streamer, metrics),
			})
		})
	} else {
		slog.Info("status server disabled")
	}

	if err := g.Wait(); err != nil {
		slog.Error("restreamd exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("restreamd stopped")
}
