// Command schedulerd wires configuration, the provider registry, and
// the scheduler into a process that exposes /metrics, following the
// teacher's minimal cmd/example/main.go shape: build the core type,
// initialize it, start serving.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasonzhangf/pipeline-scheduler/config"
	"github.com/jasonzhangf/pipeline-scheduler/logging"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
	"github.com/jasonzhangf/pipeline-scheduler/provider"
	"github.com/jasonzhangf/pipeline-scheduler/scheduler"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Global.LogLevel,
		Format: "text",
		Debug:  cfg.Global.Debug,
	}, "scheduler")

	registry := provider.NewRegistry()
	registry.Register(&provider.MockFactory{})
	registry.Register(provider.HTTPFactory{Logger: logger})

	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg)

	sched := scheduler.New(registry,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(collector),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sched.Initialize(ctx, *cfg); err != nil {
		log.Fatalf("initialize scheduler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if sched.HealthCheck() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	srv := &http.Server{Addr: ":8090", Handler: mux}
	go func() {
		logger.Info("schedulerd listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = sched.Shutdown(shutdownCtx)
}

func loadConfig() (*config.PipelineSystemConfig, error) {
	if path := os.Getenv("SCHEDULER_CONFIG_FILE"); path != "" {
		return config.NewFileSource(path).Load()
	}
	return config.Load()
}
