// kerneld runs the Task Coordination Kernel: the queue/scorer, validation
// orchestrator, diagnostic engine, dedup checker, ownership validator, and
// ACE pipeline, wired to a Postgres store and a liveness/readiness admin
// surface. The LLM, embedding, and sandbox-provisioning collaborators are
// external systems; kerneld wires their Go-side contracts but never
// implements their transport (spec.md §1).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/taskkernel/core/internal/ace"
	"github.com/taskkernel/core/internal/config"
	"github.com/taskkernel/core/internal/dedup"
	"github.com/taskkernel/core/internal/diagnostic"
	"github.com/taskkernel/core/internal/embedding"
	"github.com/taskkernel/core/internal/events"
	"github.com/taskkernel/core/internal/kerrors"
	"github.com/taskkernel/core/internal/llmgateway"
	"github.com/taskkernel/core/internal/metrics"
	"github.com/taskkernel/core/internal/ownership"
	"github.com/taskkernel/core/internal/queue"
	"github.com/taskkernel/core/internal/sandbox"
	"github.com/taskkernel/core/internal/scoring"
	"github.com/taskkernel/core/internal/storage"
	"github.com/taskkernel/core/internal/validation"

	promclient "github.com/prometheus/client_golang/prometheus"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no %s file loaded (%v), continuing with process environment", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := storage.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database, schema migrated")

	reg := metrics.New(promclient.DefaultRegisterer)
	bus := events.NewBus(5 * time.Second)
	publisher := events.NewPublisher(store.DB())
	for _, t := range events.AllEventTypes {
		bus.Subscribe(t, "durable-publisher", func(ctx context.Context, evt events.SystemEvent) {
			if err := publisher.Publish(ctx, evt); err != nil {
				slog.Warn("kerneld: failed to persist event for cross-process fan-out", "type", evt.Type, "error", err)
			}
		})
	}

	bus.Subscribe(events.EventDiagnosticCompleted, "metrics-diagnostic", func(ctx context.Context, evt events.SystemEvent) {
		reg.DiagnosticRuns.WithLabelValues("completed").Inc()
	})
	bus.Subscribe(events.EventValidationPassed, "metrics-validation", func(ctx context.Context, evt events.SystemEvent) {
		reg.ValidationOutcomes.WithLabelValues("passed").Inc()
	})
	bus.Subscribe(events.EventValidationFailed, "metrics-validation", func(ctx context.Context, evt events.SystemEvent) {
		reg.ValidationOutcomes.WithLabelValues("failed").Inc()
	})
	bus.Subscribe(events.EventACEWorkflowCompleted, "metrics-ace", func(ctx context.Context, evt events.SystemEvent) {
		if p, ok := evt.Payload.(events.ACEWorkflowCompletedPayload); ok {
			reg.ACEInsights.WithLabelValues("total").Add(float64(p.InsightCount))
		}
	})
	bus.Subscribe(events.EventPlaybookChanged, "metrics-playbook", func(ctx context.Context, evt events.SystemEvent) {
		if p, ok := evt.Payload.(events.PlaybookChangedPayload); ok {
			reg.PlaybookEntries.WithLabelValues(p.Operation).Inc()
		}
	})

	listener := events.NewListener(cfg.Database.DSN(), bus)
	if err := listener.Start(ctx); err != nil {
		slog.Error("kerneld: NOTIFY listener failed to start, falling back to in-process events only", "error", err)
	} else {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			listener.Stop(stopCtx)
		}()
	}

	embedGateway := embedding.NewGateway(unconfiguredEmbeddingProvider{})
	llmGateway := llmgateway.New(unconfiguredCompleter{}, 3)
	_ = sandbox.New(unconfiguredProvisioner{}, store.Agents, 30*time.Second)

	scorer := scoring.New(cfg.Scoring)
	queueMgr := queue.New(store.Tasks, store.Tickets, scorer, bus, cfg.Queue)
	queueMgr.SetMetrics(reg)
	dedupChecker := dedup.New(store.Tasks, embedGateway, cfg.Dedup)
	dedupChecker.SetMetrics(reg)
	ownershipValidator := ownership.New(store.Tasks, cfg.Ownership)
	_ = ownershipValidator // not consulted here: neither the background ticks nor queue.NextReady run an ownership check

	diagEngine := diagnostic.New(
		store.Tickets, store.Tasks, store.Workflows, store.Diagnostics, store.Discoveries,
		store.Projects, store.Users, queueMgr, dedupChecker, embedGateway, llmGateway, bus, cfg.Diagnostic,
	)
	acePipeline := ace.New(store.Tasks, store.Memory, store.Playbook, embedGateway, bus, cfg.ACE)
	orchestrator := validation.New(store.Tasks, store.Tickets, store.Validation, store.Agents, bus, cfg.Validation, diagEngine, acePipeline)

	c := cron.New()
	mustAddEvery(c, cfg.Diagnostic.ScanInterval, func() { diagEngine.Scan(ctx) })
	mustAddEvery(c, cfg.Queue.ClaimReaperInterval, func() { queueMgr.ReapExpiredClaims(ctx) })
	mustAddEvery(c, cfg.Queue.ScoreRecomputeInterval, func() { queueMgr.RecomputeScores(ctx, "") })
	mustAddEvery(c, cfg.Validation.TimeoutSweepInterval, func() { orchestrator.RunTimeoutSweep(ctx) })
	mustAddEvery(c, cfg.Queue.ScoreRecomputeInterval, func() { queueMgr.ReportDepth(ctx) })
	c.Start()
	defer c.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(gc *gin.Context) {
		pingCtx, cancel := context.WithTimeout(gc.Request.Context(), 5*time.Second)
		defer cancel()
		if err := store.DB().PingContext(pingCtx); err != nil {
			gc.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		gc.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/readyz", func(gc *gin.Context) {
		gc.JSON(http.StatusOK, gin.H{"status": "ready", "cron_entries": len(c.Entries())})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		slog.Info("kerneld: admin server listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("admin server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("kerneld: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("kerneld: admin server shutdown error", "error", err)
	}
}

// mustAddEvery schedules fn on a fixed interval via cron's "@every"
// descriptor. A zero or negative interval is a config bug, not a runtime
// condition, so it's fatal at startup rather than silently skipped.
func mustAddEvery(c *cron.Cron, interval time.Duration, fn func()) {
	if interval <= 0 {
		log.Fatalf("kerneld: non-positive tick interval %s", interval)
	}
	if _, err := c.AddFunc("@every "+interval.String(), fn); err != nil {
		log.Fatalf("kerneld: schedule tick: %v", err)
	}
}

// unconfiguredCompleter, unconfiguredEmbeddingProvider, and
// unconfiguredProvisioner mark the three external-collaborator seams
// (spec.md §1) that a real deployment wires to an LLM endpoint, an
// embedding model, and a sandbox provisioner respectively. kerneld does not
// implement their transport; these stand in until a concrete client is
// substituted at startup.
type unconfiguredCompleter struct{}

func (unconfiguredCompleter) Complete(context.Context, llmgateway.Request) (*llmgateway.Response, error) {
	return nil, kerrors.ExternalTimeout("llmgateway.completer", errors.New("no LLM completer configured"))
}

type unconfiguredEmbeddingProvider struct{}

func (unconfiguredEmbeddingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, kerrors.ExternalTimeout("embedding.provider", errors.New("no embedding provider configured"))
}

func (unconfiguredEmbeddingProvider) BatchEmbed(context.Context, []string) ([][]float32, error) {
	return nil, kerrors.ExternalTimeout("embedding.provider", errors.New("no embedding provider configured"))
}

type unconfiguredProvisioner struct{}

func (unconfiguredProvisioner) SpawnAgent(context.Context, sandbox.SpawnRequest) (*sandbox.SpawnedAgent, error) {
	return nil, kerrors.ExternalTimeout("sandbox.provisioner", errors.New("no sandbox provisioner configured"))
}

func (unconfiguredProvisioner) SendMessage(context.Context, string, string, sandbox.MessageKind) error {
	return kerrors.ExternalTimeout("sandbox.provisioner", errors.New("no sandbox provisioner configured"))
}
