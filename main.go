package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/happy2234/gopnik/internal/audit"
	"github.com/happy2234/gopnik/internal/config"
	"github.com/happy2234/gopnik/internal/detect/hybrid"
	"github.com/happy2234/gopnik/internal/document"
	"github.com/happy2234/gopnik/internal/job"
	"github.com/happy2234/gopnik/internal/memguard"
	"github.com/happy2234/gopnik/internal/processor"
	"github.com/happy2234/gopnik/internal/profile"
	"github.com/happy2234/gopnik/internal/redact"
	"github.com/happy2234/gopnik/internal/telemetry"
)

// This is the composition root: it wires the core (analyzer, hybrid
// detector, redaction engine, audit logger, job manager) together and
// drives it from argv. It stays deliberately thin — argument parsing and
// HTTP serving belong to transport adapters, so this is the minimal shell
// needed to exercise the wired pipeline.
func main() {
	cfg, warnings, err := config.Load(os.Getenv("GOPNIK_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopnik: config: %v\n", err)
		os.Exit(1)
	}

	telem, err := telemetry.Init(cfg.ServiceName, cfg.JaegerURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gopnik: telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telem.Shutdown(ctx)
	}()

	for _, w := range warnings {
		telem.Logger.Warn(w)
	}

	analyzer := document.NewAnalyzer()
	analyzer.MaxFileSize = cfg.MaxFileSize

	hybridEngine := hybrid.New(hybrid.DefaultConfig())
	redactor := redact.New()
	profiles := profile.NewManager(cfg.ProfilesDir)

	var auditLogger *audit.Logger
	if cfg.SigningEnabled {
		auditLogger, err = audit.Open(cfg.DatabaseURL, cfg.StorageDir, cfg.AutoSign)
		if err != nil {
			telem.Logger.Error("audit logger unavailable, continuing degraded", zap.Error(err))
		} else {
			defer auditLogger.Close()
			if _, logErr := auditLogger.LogSystemOperation(audit.OpSystemStartup, audit.LevelInfo, map[string]any{
				"service": cfg.ServiceName,
			}); logErr != nil {
				telem.Logger.Warn("failed to log startup", zap.Error(logErr))
			}
		}
	}

	proc := processor.New(analyzer, hybridEngine, redactor, profiles, auditLogger, telem.Tracer, telem.Logger)
	proc.Memory = memguard.NewManager()

	var jobStore interface{ Save(job.Job) error }
	if cfg.RedisURL != "" {
		store, storeErr := job.NewRedisStore(cfg.RedisURL, time.Duration(cfg.RetentionDays)*24*time.Hour)
		if storeErr != nil {
			telem.Logger.Warn("job snapshot store unavailable, continuing without persistence", zap.Error(storeErr))
		} else {
			defer store.Close()
			jobStore = store
		}
	}
	jobManager := job.NewManager(jobStore)
	pool := job.NewPool(jobManager, cfg.WorkerCount, cfg.WorkerCount*4)

	ctx, cancelRun := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		telem.Logger.Info("shutdown signal received, draining inflight jobs")
		cancelRun()
	}()

	if len(os.Args) > 1 {
		target := os.Args[1]
		profileName := "default"
		if len(os.Args) > 2 {
			profileName = os.Args[2]
		}

		info, statErr := os.Stat(target)
		if statErr != nil {
			telem.Logger.Fatal("input not found", zap.String("path", target), zap.Error(statErr))
		}

		if info.IsDir() {
			id, submitErr := pool.Submit(ctx, job.TypeBatchProcessing, func(taskCtx context.Context, jobID string) (any, error) {
				return proc.BatchProcess(taskCtx, target, target, profileName, processor.DefaultBatchOptions())
			})
			if submitErr != nil {
				telem.Logger.Fatal("submit batch job", zap.Error(submitErr))
			}
			telem.Logger.Info("batch job submitted", zap.String("job_id", id))
		} else {
			id, submitErr := pool.Submit(ctx, job.TypeSingleDocument, func(taskCtx context.Context, jobID string) (any, error) {
				result := proc.ProcessDocument(taskCtx, target, profileName)
				if !result.Success {
					return result, fmt.Errorf("processing failed: %v", result.Errors)
				}
				return result, nil
			})
			if submitErr != nil {
				telem.Logger.Fatal("submit document job", zap.Error(submitErr))
			}
			telem.Logger.Info("document job submitted", zap.String("job_id", id))
		}
	} else {
		telem.Logger.Info("gopnik started with no input path; idling until shutdown signal",
			zap.String("usage", "gopnik <file-or-directory> [profile]"))
	}

	<-ctx.Done()
	pool.Close()
	telem.Logger.Info("gopnik shut down cleanly")
}
