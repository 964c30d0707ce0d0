package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/seam/internal/engine"
	"github.com/zsiec/seam/internal/ingest"
	"github.com/zsiec/seam/internal/source"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	liveSRT := envOr("LIVE_SRT_ADDRS", "")
	liveTCP := envOr("LIVE_TCP_ADDRS", "")
	fallbackFile := envOr("FALLBACK_FILE", "")
	fallbackTCP := envOr("FALLBACK_TCP_ADDR", "")
	outPath := envOr("OUT_PATH", "-")
	apiAddr := envOr("API_ADDR", ":8600")

	var live []engine.Feed
	var feeds []*source.Source
	n := 0
	for _, addr := range splitList(liveSRT) {
		n++
		s := source.New(source.Config{
			Name:   fmt.Sprintf("live%d", n),
			Dialer: &ingest.SRTDialer{Address: addr, StreamID: envOr("LIVE_SRT_STREAMID", "")},
		}, nil)
		live = append(live, s)
		feeds = append(feeds, s)
	}
	for _, addr := range splitList(liveTCP) {
		n++
		s := source.New(source.Config{
			Name:   fmt.Sprintf("live%d", n),
			Dialer: &ingest.TCPDialer{Address: addr},
		}, nil)
		live = append(live, s)
		feeds = append(feeds, s)
	}

	var fallbackDialer ingest.Dialer
	switch {
	case fallbackFile != "":
		fallbackDialer = &ingest.FileDialer{
			Path:    fallbackFile,
			Bitrate: int64(envOrInt("FALLBACK_BITRATE", 0)),
		}
	case fallbackTCP != "":
		fallbackDialer = &ingest.TCPDialer{Address: fallbackTCP}
	default:
		slog.Error("no fallback configured, set FALLBACK_FILE or FALLBACK_TCP_ADDR")
		os.Exit(1)
	}
	fallback := source.New(source.Config{Name: "fallback", Dialer: fallbackDialer}, nil)
	feeds = append(feeds, fallback)

	out := os.Stdout
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			slog.Error("failed to open output", "path", outPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	eng, err := engine.New(engine.Config{
		Sink:             engine.NewWriterSink(out),
		Live:             live,
		Fallback:         fallback,
		PollInterval:     envOrDuration("POLL_INTERVAL", 0),
		SpliceWait:       envOrDuration("SPLICE_WAIT", 0),
		Staleness:        envOrDuration("STALENESS", 0),
		BitrateFloor:     int64(envOrInt("BITRATE_FLOOR", 0)),
		MinHealthyStreak: int64(envOrInt("MIN_HEALTHY_STREAK", 0)),
	}, nil)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	slog.Info("seam starting",
		"version", version,
		"live_sources", len(live),
		"fallback", fallbackDialer.Name(),
		"out", outPath,
		"api", apiAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, s := range feeds {
		g.Go(func() error { return s.Run(ctx) })
	}
	g.Go(func() error { return eng.Run(ctx) })

	apiSrv := &http.Server{Addr: apiAddr, Handler: apiHandler(eng)}
	g.Go(func() error {
		slog.Info("API server listening", "addr", apiAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("engine error", "error", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
