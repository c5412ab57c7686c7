// Command processdemo wires a Manager and a Process together end to end:
// it registers a small global tree and an instance tree on top of it,
// attaches scheduler metrics and a registry snapshot store, and executes
// the composed tree once, logging the outcome.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/drefi/LSUtils-sub007/process"
	"github.com/drefi/LSUtils-sub007/process/llmhandler"
	"github.com/drefi/LSUtils-sub007/process/llmhandler/anthropic"
	"github.com/drefi/LSUtils-sub007/process/metrics"
	"github.com/drefi/LSUtils-sub007/process/obs"
	"github.com/drefi/LSUtils-sub007/process/registrystore"
)

func main() {
	level := flag.String("log-level", "info", "zap log level (debug, info, warn, error)")
	processType := flag.String("type", "demo.greeting", "registry process type to execute")
	instance := flag.String("instance", "default", "registry instance id to match")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	anthropicKey := flag.String("anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "when set, adds an LLM-backed summary step using Claude")
	flag.Parse()

	zapLevel, err := zap.ParseAtomicLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *level, err)
		os.Exit(1)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	zl, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger := obs.NewZapLogger(zl)

	registry := prometheus.NewRegistry()
	schedMetrics := metrics.NewSchedulerMetrics(registry)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("metrics server stopped: %v\n", err)
		}
	}()

	store := registrystore.NewMemStore()
	manager := process.NewManager(
		process.WithManagerLogger(logger),
		process.WithRegistryStore(store),
	)

	err = manager.Register(*processType, "", func(b *process.TreeBuilder) {
		b.Sequence("root", func(b *process.TreeBuilder) {
			b.Handler("announce", func(s *process.Session) process.Status {
				name, _ := process.TryGetData[string](s.Process(), "name")
				if name == "" {
					name = "world"
				}
				s.Process().SetData("greeting", "hello, "+name)
				return process.StatusSuccess
			})
			if *anthropicKey != "" {
				model := anthropic.New(*anthropicKey, "")
				b.Handler("summarize", llmhandler.Handler(model, llmhandler.Config{
					PromptKey: "greeting",
					ResultKey: "summary",
				}))
			}
		})
	})
	if err != nil {
		zl.Fatal("failed to register global tree", zap.Error(err))
	}

	err = manager.Register(*processType, *instance, func(b *process.TreeBuilder) {
		b.Sequence("root", func(b *process.TreeBuilder) {
			b.Handler("log-result", func(s *process.Session) process.Status {
				greeting, _ := process.TryGetData[string](s.Process(), "greeting")
				s.Process().SetData("final", greeting+"!")
				return process.StatusSuccess
			})
		})
	})
	if err != nil {
		zl.Fatal("failed to register instance override", zap.Error(err))
	}

	p := process.New(*processType,
		process.WithProcessLogger(logger),
		process.WithProcessMetrics(schedMetrics),
	)
	p.SetData("name", "processdemo")

	status, err := p.Execute(manager, process.ContextMatchFirst, *instance)
	if err != nil {
		zl.Fatal("execute failed", zap.Error(err))
	}

	final, _ := process.TryGetData[string](p, "final")
	summary, _ := process.TryGetData[string](p, "summary")
	zl.Info("process finished",
		zap.String("status", status.String()),
		zap.String("result", final),
		zap.String("summary", summary),
	)

	if blob, version, err := manager.LoadSnapshot(*processType, *instance); err == nil {
		zl.Info("registry snapshot persisted",
			zap.Int("version", version),
			zap.Int("bytes", len(blob)),
		)
	}
}
