package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-packager/internal/hls"
	"hls-packager/internal/mpegts"
	"hls-packager/internal/platform/config"
	"hls-packager/internal/platform/logger"
	"hls-packager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(os.Stdout, logLevel, logFormat)

	base := mpegts.DefaultConfig()
	if path := config.GetEnv("PACKAGER_CONFIG", ""); path != "" {
		var err error
		if base, err = config.LoadPackagerFile(path); err != nil {
			log.Error("load packager config", "error", err)
			os.Exit(1)
		}
	}
	pcfg := config.Packager(base)
	if err := pcfg.Validate(); err != nil {
		log.Error("invalid packager config", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	mgr := hls.NewManager(pcfg, log, met)
	h := hls.NewHandler(mgr, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Handle(metrics.ScrapePath, met.Handler(func() {
		tiers := mgr.TierCounts()
		met.SetTierSegments(metrics.TierBuffer, tiers.Buffer)
		met.SetTierSegments(metrics.TierArchive, tiers.Archive)
		met.SetTierSegments(metrics.TierRetention, tiers.Retention)
		met.SetActiveStreams(mgr.ActiveStreamCount())
	}))
	h.Routes(r)

	srv := &http.Server{Addr: ":" + port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting",
			"port", port,
			"segment_duration_ms", pcfg.TargetDurationMs,
			"segment_count", pcfg.MaxSegmentCount,
			"dvr_window_ms", pcfg.DvrWindowMs,
			"segment_retention", pcfg.SegmentRetentionCount,
			"log_level", logLevel,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		mgr.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
