// Package sairen composes the full telemetry-advisory core behind a single
// facade: configuration, telemetry (metrics/tracing/events/health), the
// pipeline coordinator, baseline persistence, and the ML report store.
package sairen

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/config"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/advisory"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/baseline"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/llm"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/ml"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/orchestrator"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/physics"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/pipeline"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/specialists"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/store"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/strategic"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/tactical"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/validator"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/events"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/health"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/logging"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/metrics"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/tracing"
)

// Options selects data directory, telemetry backends and well identity; the
// CLI entrypoint builds this from flags and environment variables.
type Options struct {
	DataDir        string
	WellID         string
	FieldName      string
	Campaign       types.Campaign
	MetricsBackend string // "prometheus" | "otel" | "noop"
	SamplingPercent float64
	LLMBackend     llm.Backend // nil selects the template-only path
	Logger         *slog.Logger
}

// Engine is the single embedding surface for SAIREN-OS: it owns the
// pipeline coordinator, telemetry stack, baseline persistence and the ML
// report store.
type Engine struct {
	opts Options
	cfg  config.Config

	metricsProvider metrics.Provider
	eventBus        events.Bus
	tracer          tracing.Tracer
	logger          logging.Logger
	healthEval      *health.Evaluator

	coord       *pipeline.Coordinator
	baselinePath string
	lockRelease func() error
	reports     *store.ReportStore

	llmBreaker *llm.BreakerBackend

	started atomic.Bool
	cancel  context.CancelFunc
}

// New loads configuration (search order $SAIREN_CONFIG -> ./well_config.toml
// -> defaults), acquires the process lock, builds the telemetry stack and
// constructs the pipeline coordinator. It does not start background work;
// call Start for that.
func New(opts Options) (*Engine, error) {
	path := config.SearchPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("sairen: %w", err)
	}

	if opts.DataDir == "" {
		opts.DataDir = "."
	}

	release, err := store.AcquireLock(filepath.Join(opts.DataDir, "sairen.lock"))
	if err != nil {
		return nil, fmt.Errorf("sairen: %w", err)
	}

	// campaign.current from the loaded config is authoritative. With no
	// config file the compiled default ("production") applies, so the
	// caller's Options.Campaign is overwritten in every case.
	if cfg.Campaign.Current == "p&a" {
		opts.Campaign = types.CampaignPandA
	} else if cfg.Campaign.Current == "production" {
		opts.Campaign = types.CampaignProduction
	}

	e := &Engine{opts: opts, cfg: cfg, lockRelease: release}

	e.metricsProvider = selectMetricsProvider(opts.MetricsBackend)
	e.eventBus = events.NewBus(e.metricsProvider)
	e.tracer = tracing.NewAdaptiveTracer(func() float64 {
		if opts.SamplingPercent > 0 {
			return opts.SamplingPercent
		}
		return 5
	})
	e.logger = logging.New(opts.Logger)

	reports, err := store.NewReportStore(filepath.Join(opts.DataDir, "ml_reports"))
	if err != nil {
		return nil, fmt.Errorf("sairen: %w", err)
	}
	e.reports = reports
	e.baselinePath = filepath.Join(opts.DataDir, "baseline_state.json")

	backend := opts.LLMBackend
	if backend != nil {
		e.llmBreaker = llm.NewBreakerBackend(backend, 800*time.Millisecond)
		backend = e.llmBreaker
	}
	composer := advisory.New(advisoryConfigFrom(cfg), backend)

	pc := pipeline.Config{
		Physics:       physics.Config{BitDiameterIn: 8.5, NormalMudWeightPPG: 10.0},
		Validator:     validator.DefaultThresholds(),
		Baseline:      baselineConfigFrom(cfg),
		Cooldown:      cooldownConfigFrom(cfg),
		CumulativeLim: strategic.DefaultCumulativeLimits(),
		Specialists:   specialistsThresholdsFrom(cfg, opts.Campaign),
		Weights:       weightsFrom(cfg),
		Advisory:      advisoryConfigFrom(cfg),
		HistorySize:   cfg.History.BufferSize,
		QueueCapacity: 1024,
	}
	e.coord = pipeline.New(pc, composer, e.logger, e.eventBus, e.metricsProvider)

	if data, exists, rerr := store.ReadFile(e.baselinePath); rerr == nil && exists {
		if lerr := e.coord.Baselines().LoadSnapshot(data); lerr != nil {
			e.logger.WarnCtx(context.Background(), "baseline state unreadable; starting unstarted", "error", lerr.Error())
		}
	}

	e.healthEval = health.NewEvaluator(5*time.Second, e.healthProbes()...)

	return e, nil
}

func advisoryConfigFrom(cfg config.Config) advisory.Config {
	return advisory.Config{CriticalCooldown: time.Duration(cfg.Cooldown.CriticalAdvisorySeconds * float64(time.Second))}
}

func baselineConfigFrom(cfg config.Config) baseline.Config {
	return baseline.Config{
		MinSamples:         cfg.Baseline.MinSamples,
		WarningSigma:       cfg.Baseline.WarningSigma,
		CriticalSigma:      cfg.Baseline.CriticalSigma,
		OutlierFractionMax: cfg.Baseline.OutlierFractionMax,
		Shards:             16,
	}
}

func cooldownConfigFrom(cfg config.Config) tactical.CooldownConfig {
	return tactical.CooldownConfig{
		PerCategoryPackets:  cfg.Cooldown.PerCategoryPackets,
		PerCategoryDepthFt:  cfg.Cooldown.PerCategoryDepthFt,
		PerCategorySeconds:  cfg.Cooldown.PerCategorySeconds,
		PatternDebounceRuns: 3,
	}
}

func specialistsThresholdsFrom(cfg config.Config, campaign types.Campaign) specialists.Thresholds {
	t := specialists.DefaultThresholds(campaign)
	t.ECDMarginWarningPPG = cfg.Thresholds.ECDMarginWarning
	t.ECDMarginCriticalPPG = cfg.Thresholds.ECDMarginCritical
	t.FlowImbalanceWarningGPM = cfg.Thresholds.FlowImbalanceWarning
	t.FlowImbalanceCriticalGPM = cfg.Thresholds.FlowImbalanceCritical
	t.DExponentShiftThreshold = cfg.Thresholds.DExponentShiftThreshold
	return t
}

func weightsFrom(cfg config.Config) orchestrator.EnsembleWeights {
	return orchestrator.EnsembleWeights{
		MSE:         cfg.EnsembleWeights.MSE,
		Hydraulic:   cfg.EnsembleWeights.Hydraulic,
		WellControl: cfg.EnsembleWeights.WellControl,
		Formation:   cfg.EnsembleWeights.Formation,
	}
}

func selectMetricsProvider(backend string) metrics.Provider {
	switch strings.ToLower(backend) {
	case "otel", "opentelemetry":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{})
	case "noop", "":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

// healthProbes wires the pipeline, baseline persistence and LLM circuit
// breaker into named health probes.
func (e *Engine) healthProbes() []health.Probe {
	probes := []health.Probe{
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			return health.Healthy("pipeline")
		}),
	}
	if e.llmBreaker != nil {
		probes = append(probes, health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			switch e.llmBreaker.State().String() {
			case "open":
				return health.Degraded("llm_backend", "circuit open; advisories falling back to templates")
			case "half-open":
				return health.Degraded("llm_backend", "circuit half-open; probing recovery")
			default:
				return health.Healthy("llm_backend")
			}
		}))
	}
	return probes
}

// MetricsHandler returns the HTTP handler for metrics exposition (Prometheus
// backend only); nil if metrics disabled or the backend exposes no handler.
func (e *Engine) MetricsHandler() http.Handler {
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// HealthSnapshot evaluates (or returns cached) subsystem health.
func (e *Engine) HealthSnapshot(ctx context.Context) health.Snapshot {
	return e.healthEval.Evaluate(ctx)
}

// Submit enqueues a packet for processing on the hot path.
func (e *Engine) Submit(p types.Packet) {
	p.WellID = e.opts.WellID
	p.Campaign = e.opts.Campaign
	e.coord.Submit(p)
}

// Advisories returns the broadcast channel of emitted advisories.
func (e *Engine) Advisories() <-chan types.Advisory { return e.coord.Advisories() }

// Start begins the hot path and both background tasks.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.coord.Run(ctx)
	e.coord.RunMLAnalyzer(ctx, time.Duration(e.cfg.ML.IntervalSecs)*time.Second, ml.Config{
		WOBBins: e.cfg.ML.WOBBins, RPMBins: e.cfg.ML.RPMBins, MinBinSamples: e.cfg.ML.MinBinSamples,
		CompositeWeights: ml.DefaultConfig(e.opts.Campaign).CompositeWeights,
	}, e.opts.Campaign, e.opts.WellID, e.opts.FieldName, e.reports)
	e.runBaselineStateListener(ctx)
	e.runBaselinePersister(ctx)
	e.started.Store(true)
}

// runBaselineStateListener persists immediately whenever a baseline locks,
// so a newly learned threshold survives a crash without waiting out the
// periodic persister's interval.
func (e *Engine) runBaselineStateListener(ctx context.Context) {
	sub, err := e.eventBus.Subscribe(8)
	if err != nil {
		e.logger.WarnCtx(ctx, "baseline state listener disabled; subscribe failed", "error", err.Error())
		return
	}
	go func() {
		defer func() { _ = e.eventBus.Unsubscribe(sub) }()
		for {
			select {
			case ev := <-sub.C():
				if ev.Category == events.CategoryBaseline && ev.Type == "locked" {
					e.persistBaselinesWithRetry(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runBaselinePersister flushes locked baselines to disk on a fixed interval
// as a backstop for the state-transition-triggered listener, bounding how
// stale the on-disk snapshot can get if a lock event is ever missed.
func (e *Engine) runBaselinePersister(ctx context.Context) {
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.persistBaselinesWithRetry(ctx)
			case <-ctx.Done():
				e.persistBaselinesWithRetry(context.Background())
				return
			}
		}
	}()
}

func (e *Engine) persistBaselinesWithRetry(ctx context.Context) {
	delay := 100 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if err := e.coord.PersistBaselines(e.baselinePath); err == nil {
			return
		} else if attempt == 2 {
			e.logger.ErrorCtx(ctx, "baseline persist failed after retries", "error", err.Error())
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
}

// Stop gracefully stops the engine within a 5 second budget: the hot path
// drains in-flight packets, the baseline persister performs a final flush,
// and the process lock is released.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.coord.Stop()
	e.persistBaselinesWithRetry(context.Background())
	if e.lockRelease != nil {
		return e.lockRelease()
	}
	return nil
}
