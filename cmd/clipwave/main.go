package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clipwave/clipwave/internal/config"
	"github.com/clipwave/clipwave/internal/httpapi"
	"github.com/clipwave/clipwave/internal/jobs"
	"github.com/clipwave/clipwave/internal/llm"
	"github.com/clipwave/clipwave/internal/persistence"
	"github.com/clipwave/clipwave/internal/pipeline"
	"github.com/clipwave/clipwave/internal/renderer"
	"github.com/clipwave/clipwave/internal/selector"
	"github.com/clipwave/clipwave/internal/source"
	"github.com/clipwave/clipwave/internal/storage"
	"github.com/clipwave/clipwave/pkg/log"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	level := log.ParseLevel(cfg.LogLevel)
	log.InitLogger(level)
	if cfg.LogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.LogFile, level)
		if err != nil {
			log.Fatal("Failed to open log file: %v", err)
		}
		defer fileLogger.Close()
		log.SetLogger(fileLogger.Logger)
	}

	store, err := persistence.NewSQLiteStore(filepath.Join(cfg.DataDir, "clipwave.db"))
	if err != nil {
		log.Fatal("Failed to open job store: %v", err)
	}
	defer store.Close()

	layout, err := storage.NewLayout(cfg.StorageDir)
	if err != nil {
		log.Fatal("Failed to prepare storage directory: %v", err)
	}

	llmClient, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to create LLM client: %v", err)
	}

	resolver := source.NewYTDLPResolver(source.Options{
		YTDLPPath:      cfg.Source.YTDLPPath,
		FFProbePath:    cfg.Source.FFProbePath,
		CookiesFile:    cfg.Source.CookiesFile,
		TranscriptLang: cfg.Source.TranscriptTag(),
	})
	if err := resolver.CheckDependencies(); err != nil {
		log.Fatal("%v", err)
	}

	ffmpeg := renderer.NewFFmpegRenderer(cfg.Render.FFmpegPath, layout, cfg.Render.Concurrency)
	if err := ffmpeg.CheckDependencies(); err != nil {
		log.Fatal("%v", err)
	}

	queue := jobs.NewQueue(cfg.Workers, store)
	pipe := pipeline.New(pipeline.Config{
		MaxClips:       cfg.MaxClips,
		ResolveTimeout: cfg.ResolveTimeout,
		SelectTimeout:  cfg.SelectTimeout,
		RenderTimeout:  cfg.RenderTimeout,
	}, resolver, selector.NewLLMSelector(llmClient), ffmpeg, queue)
	queue.Start(pipe.Run)

	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.CleanupCron, func() {
		layout.Sweep(func(jobID string) bool {
			_, err := queue.Get(jobID)
			return err == nil
		})
	}); err != nil {
		log.Fatal("Invalid CLEANUP_CRON %q: %v", cfg.CleanupCron, err)
	}
	janitor.Start()

	srv := httpapi.NewServer(queue, layout, httpapi.WithUI(cfg.UIDir, cfg.UIDir != ""))

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	<-janitor.Stop().Done()
	queue.Stop()
}
