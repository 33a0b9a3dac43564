package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ombra-ai/ombra/internal/config"
	"github.com/ombra-ai/ombra/internal/conversation"
	"github.com/ombra-ai/ombra/internal/execution"
	"github.com/ombra-ai/ombra/internal/executor"
	"github.com/ombra-ai/ombra/internal/heartbeat"
	"github.com/ombra-ai/ombra/internal/httpapi"
	"github.com/ombra-ai/ombra/internal/observability"
	"github.com/ombra-ai/ombra/internal/tasks"
	"github.com/ombra-ai/ombra/internal/tasktools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := tasks.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("task store: in-memory (set DATABASE_URL for durability)")
	} else {
		log.Printf("task store: postgres")
	}

	scheduler := tasks.NewScheduler(store, metrics)
	toolset := tasktools.New(scheduler)

	runtime := execution.Runtime{
		Tools:      execution.NewMockToolRunner(),
		Subagents:  execution.NewMockSubagentFactory(),
		Background: execution.NewMockBackgroundRunner(),
	}

	exec := executor.New(executor.Config{
		DequeueTimeout:         cfg.DequeueTimeout,
		BackgroundPollInterval: cfg.BackgroundPollInterval,
		BackgroundMaxPolls:     cfg.BackgroundMaxPolls,
	}, scheduler, runtime, metrics)

	manager := conversation.NewManager(cfg.DebounceWindow, newProcessFunc(toolset), logNotifier{}, metrics)
	defer manager.Close()

	var hb *heartbeat.Service
	if cfg.HeartbeatInterval > 0 {
		hb = heartbeat.New(cfg.HeartbeatInterval, func(ctx context.Context, source string) error {
			stats, err := scheduler.Stats(ctx)
			if err != nil {
				return err
			}
			log.Printf("heartbeat (%s): %d pending, %d running",
				source, stats[tasks.TaskStatusPending], stats[tasks.TaskStatusRunning])
			return nil
		}, metrics)
	}

	api := httpapi.New(cfg, manager, scheduler, hb, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go exec.Run(runCtx)
	if hb != nil {
		go hb.Run(runCtx)
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// newProcessFunc builds the default processing routine: a "task:" prefix
// queues background work through the task tools, anything else gets a direct
// acknowledgement. A real reasoning backend replaces this via
// conversation.ProcessFunc.
func newProcessFunc(toolset *tasktools.Toolset) conversation.ProcessFunc {
	return func(ctx context.Context, conversationID, participantID, content string, metadata map[string]any, interrupted func() bool) (string, error) {
		if interrupted() {
			return "", nil
		}

		trimmed := strings.TrimSpace(content)
		if rest, ok := strings.CutPrefix(trimmed, "task:"); ok {
			result, err := toolset.SpawnTask(ctx, strings.TrimSpace(rest), "background", "normal", participantID)
			if err != nil {
				return "", err
			}
			return result, nil
		}

		return fmt.Sprintf("Heard you: %s", trimmed), nil
	}
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, conversationID, text string) error {
	log.Printf("conversation %s: %s", conversationID, text)
	return nil
}
