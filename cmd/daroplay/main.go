// Package main runs the engine standalone from a scene file.
//
// The composited frames are published through the shared frame buffer and,
// when the scene asks for it, a Spout sender. The scene file is watched and
// reapplied on every valid change.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Faultbox/daro-engine/internal/config"
	"github.com/Faultbox/daro-engine/internal/engine"
	"github.com/Faultbox/daro-engine/internal/logger"
	"github.com/Faultbox/daro-engine/internal/playout"
)

var (
	flagScene = flag.String("scene", "scene.yaml", "Scene file to play")
	flagWatch = flag.Bool("watch", true, "Reapply the scene when the file changes")
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.FileConfig{
			Path:       cfg.Logging.LogFile,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, true); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("daroplay failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("daroplay stopped")
}

func run(cfg *config.Config) error {
	scene, err := playout.Load(*flagScene)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	eng := engine.New(cfg, logger.Log, engine.WithRegisterer(reg))
	if code := eng.Initialize(cfg.Engine.Width, cfg.Engine.Height, cfg.Engine.TargetFPS); code != engine.OK {
		return fmt.Errorf("initialize: %s", code)
	}
	defer eng.Shutdown()

	w, h := eng.Size()
	logger.Info("engine ready",
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Float64("fps", eng.TargetFPS()),
		zap.String("framebuffer", eng.FrameBufferPath()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	player := playout.NewPlayer(eng, logger.Log)
	defer player.Close()
	player.Apply(scene)

	if err := eng.StartLoop(); err != nil {
		return err
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if !*flagWatch {
			return
		}
		if err := playout.Watch(ctx, *flagScene, playout.DefaultDebounce, logger.Log, player.Apply); err != nil {
			logger.Error("scene watch", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	<-watchDone
	return eng.StopLoop()
}
