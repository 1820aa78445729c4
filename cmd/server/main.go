package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/cesargomez89/stemdeck/internal/app"
	"github.com/cesargomez89/stemdeck/internal/backend"
	"github.com/cesargomez89/stemdeck/internal/cache"
	"github.com/cesargomez89/stemdeck/internal/config"
	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/domain"
	"github.com/cesargomez89/stemdeck/internal/gate"
	httpapp "github.com/cesargomez89/stemdeck/internal/http"
	"github.com/cesargomez89/stemdeck/internal/logger"
	"github.com/cesargomez89/stemdeck/internal/probe"
	"github.com/cesargomez89/stemdeck/internal/progress"
	"github.com/cesargomez89/stemdeck/internal/ratelimit"
	"github.com/cesargomez89/stemdeck/internal/reaper"
	"github.com/cesargomez89/stemdeck/internal/registry"
	"github.com/cesargomez89/stemdeck/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger, err := logger.NewWithFile(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer appLogger.Close()

	// Initialize DB
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stems := cache.New(cfg.StemsCacheDir, domain.KindSeparation, db, appLogger)
	bpm := cache.New(cfg.BPMCacheDir, domain.KindAnalysis, db, appLogger)
	tasks := registry.New()

	// Backends
	ffmpeg := backend.NewFFmpeg(cfg.FFmpegBin, cfg.FFprobeBin)
	if !ffmpeg.Available() {
		appLogger.Warn("ffmpeg not found, conversions and fallback analysis will fail", "bin", cfg.FFmpegBin)
	}

	var cookies string
	if cfg.YouTubeCookies != "" {
		cookies, err = backend.WriteCookies(cfg.YouTubeCookies, filepath.Join(filepath.Dir(cfg.DBPath), "cookies"))
		if err != nil {
			appLogger.Warn("Ignoring youtube cookies", "error", err)
		}
	}
	fetcher := backend.NewYTDLP(cfg.YTDLPBin, cfg.FFmpegBin, cookies, appLogger)
	separator := backend.NewDemucs(cfg.DemucsBin, cfg.DemucsModel, backend.NewDegraded(ffmpeg, appLogger), appLogger)
	analyzer := backend.NewChain(backend.NewCommandAnalyzer(cfg.AnalyzerCmd), backend.NewOnsetAnalyzer(ffmpeg), appLogger)

	// Rate limiting
	var limiter ratelimit.Limiter
	var pruners []reaper.Pruner
	switch cfg.RateLimitBackend {
	case constants.RateLimitRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Warn("Redis unreachable, rate limiter will fail open until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit, cfg.RateWindow, appLogger)
	default:
		mem := ratelimit.NewMemory(cfg.RateLimit, cfg.RateWindow)
		limiter = mem
		pruners = append(pruners, mem)
	}

	rp := reaper.New(reaper.Config{
		DownloadsDir: cfg.DownloadsDir,
		Interval:     cfg.ReapInterval,
		Expiry:       cfg.TaskExpiry,
		Quota:        cfg.DiskQuota,
		CacheQuota:   cfg.CacheQuota,
	}, tasks, appLogger).
		WithCaches(db, stems, bpm).
		WithPruners(pruners...)

	svc := app.New(app.Options{
		DownloadsDir:        cfg.DownloadsDir,
		UploadsDir:          cfg.UploadsDir,
		FilenameTemplate:    cfg.FilenameTemplate,
		MaxDuration:         cfg.MaxDuration,
		TaskTimeout:         cfg.TaskTimeout,
		MaxSeparationUpload: cfg.MaxSeparationUpload,
		MaxAnalysisUpload:   cfg.MaxAnalysisUpload,
	}, app.Deps{
		Tasks: tasks,
		Gates: gate.NewSet(map[domain.TaskKind]int{
			domain.KindConversion: cfg.ConversionSlots,
			domain.KindSeparation: cfg.SeparationSlots,
			domain.KindAnalysis:   cfg.AnalysisSlots,
		}),
		Stems:     stems,
		BPM:       bpm,
		Fetcher:   fetcher,
		Separator: separator,
		Analyzer:  analyzer,
		Prober:    probe.New(ffmpeg, appLogger),
		Reaper:    rp,
		Logger:    appLogger,
	})

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()
	if err := svc.Start(rootCtx); err != nil {
		appLogger.Error("Failed to start service", "error", err)
		os.Exit(1)
	}

	reporter := progress.NewReporter(tasks, cfg.StreamInterval, appLogger)
	h := httpapp.NewHandler(svc, reporter, limiter, httpapp.Limits{
		MaxSeparationUpload: cfg.MaxSeparationUpload,
		MaxAnalysisUpload:   cfg.MaxAnalysisUpload,
	}, appLogger)
	h.FFmpegAvailable = ffmpeg.Available

	// Initialize Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)

	// Start Server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := svc.Stop(ctx); err != nil {
		appLogger.Error("Tasks did not finish in time", "error", err)
	}

	appLogger.Info("Server exiting")
}
