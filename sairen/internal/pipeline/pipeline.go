// Package pipeline runs the single-threaded hot path that turns ingested
// packets into advisories: validate, classify, derive physics metrics,
// observe/check baselines, gate a ticket, detect causal leads, verify it
// against recent trend, collect specialist votes, fuse them, and compose the
// advisory. Two background tasks (ML analyzer, baseline persister) run
// alongside it; neither mutates hot-path-owned state directly.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/advisory"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/baseline"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/causal"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/history"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/ml"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/orchestrator"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/physics"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/specialists"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/store"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/strategic"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/tactical"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/types"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/internal/validator"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/events"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/logging"
	"github.com/ashton-dyke/SAIREN-OS-sub001/sairen/telemetry/metrics"
)

// monitoredChannels maps each baseline-tracked metric to the equipment tag it
// is filed under. Physics derives one Metrics struct per packet; the
// baseline manager tracks each of its scalar fields independently.
var monitoredChannels = []types.EquipmentID{
	{Equipment: "drillstring", Metric: "mse"},
	{Equipment: "annulus", Metric: "ecd_margin"},
	{Equipment: "pumps", Metric: "flow_balance"},
	{Equipment: "bit", Metric: "d_exponent"},
}

func channelValue(m types.Metrics, metric string) (float64, bool) {
	switch metric {
	case "mse":
		return m.MSE, true
	case "ecd_margin":
		return m.ECDMargin, m.ECDMarginOK
	case "flow_balance":
		return m.FlowBalance, true
	case "d_exponent":
		return m.DExponent, m.DExponentOK
	default:
		return 0, false
	}
}

// Config bundles every phase's tuning knobs; the facade builds this from the
// loaded configuration file.
type Config struct {
	Physics       physics.Config
	Validator     validator.Thresholds
	Baseline      baseline.Config
	Cooldown      tactical.CooldownConfig
	CumulativeLim strategic.CumulativeLimits
	Specialists   specialists.Thresholds
	Weights       orchestrator.EnsembleWeights
	Advisory      advisory.Config
	HistorySize   int
	QueueCapacity int
}

// Coordinator owns every stateful phase and the ingestion queue; it is the
// single writer of the history ring and the baseline manager.
type Coordinator struct {
	cfg Config

	baselines  *baseline.Manager
	gate       *tactical.Gate
	ring       *history.Ring
	composer   *advisory.Composer
	specs      [4]specialists.Specialist

	logger   logging.Logger
	eventBus events.Bus
	counter  metrics.Counter

	queue   chan types.Packet
	advCh   chan types.Advisory

	mu      sync.Mutex
	prev    types.Packet
	havePrev bool
	prevMSE float64
	packetIndex int64

	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Coordinator; it does not start processing until Run is
// called.
func New(cfg Config, composer *advisory.Composer, logger logging.Logger, bus events.Bus, provider metrics.Provider) *Coordinator {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	var counter metrics.Counter
	if provider != nil {
		counter = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sairen", Subsystem: "pipeline", Name: "packets_dropped_total", Help: "Packets dropped by backpressure or validation."}})
	}
	return &Coordinator{
		cfg:       cfg,
		baselines: baseline.New(cfg.Baseline),
		gate:      tactical.New(cfg.Cooldown),
		ring:      history.New(cfg.HistorySize),
		composer:  composer,
		specs:     specialists.FixedSet(),
		logger:    logger,
		eventBus:  bus,
		counter:   counter,
		queue:     make(chan types.Packet, cfg.QueueCapacity),
		advCh:     make(chan types.Advisory, 64),
		stop:      make(chan struct{}),
	}
}

// Baselines exposes the baseline manager so the facade can wire persistence
// and recommissioning.
func (c *Coordinator) Baselines() *baseline.Manager { return c.baselines }

// History exposes the history ring so the facade can wire the ML analyzer.
func (c *Coordinator) History() *history.Ring { return c.ring }

// Advisories returns the broadcast channel of emitted advisories.
func (c *Coordinator) Advisories() <-chan types.Advisory { return c.advCh }

// Submit enqueues a packet for processing. If the queue is full, the oldest
// queued packet is dropped to make room (drop-oldest backpressure) and the
// drop counter is incremented.
func (c *Coordinator) Submit(p types.Packet) {
	select {
	case c.queue <- p:
		return
	default:
	}
	select {
	case <-c.queue:
		if c.counter != nil {
			c.counter.Inc(1)
		}
	default:
	}
	select {
	case c.queue <- p:
	default:
		if c.counter != nil {
			c.counter.Inc(1)
		}
	}
}

// Run drains the ingestion queue on the calling goroutine's behalf via a
// dedicated goroutine, until ctx is canceled. Call Stop (or cancel ctx) to
// begin a graceful shutdown. Run itself returns at once; the goroutine
// processes packets already queued before it exits.
func (c *Coordinator) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case p := <-c.queue:
				c.process(ctx, p)
			case <-ctx.Done():
				c.drain(ctx)
				return
			case <-c.stop:
				c.drain(ctx)
				return
			}
		}
	}()
}

// drain processes any packets already queued at shutdown time without
// blocking on new arrivals.
func (c *Coordinator) drain(ctx context.Context) {
	for {
		select {
		case p := <-c.queue:
			c.process(ctx, p)
		default:
			return
		}
	}
}

// shutdownBudget bounds how long Stop waits for in-flight packets to drain;
// past it, exit proceeds and the incomplete flush is logged, not blocked on.
const shutdownBudget = 5 * time.Second

// Stop signals the run loop to drain and exit, then waits up to
// shutdownBudget for it before returning.
func (c *Coordinator) Stop() {
	close(c.stop)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownBudget):
		if c.logger != nil {
			c.logger.WarnCtx(context.Background(), "shutdown budget exceeded; exiting with packets still in flight")
		}
	}
	close(c.advCh)
}

func (c *Coordinator) process(ctx context.Context, p types.Packet) {
	if err := validator.Validate(p); err != nil {
		if c.counter != nil {
			c.counter.Inc(1)
		}
		if c.logger != nil {
			c.logger.WarnCtx(ctx, "dropping invalid packet", "reason", err.Error())
		}
		return
	}

	c.mu.Lock()
	prev, havePrev, prevMSE := c.prev, c.havePrev, c.prevMSE
	c.mu.Unlock()

	p.RigState = validator.Classify(p, c.cfg.Validator)
	m := physics.Compute(p, prev, havePrev, c.cfg.Physics, c.baselineLookup("drillstring", "mse"), c.baselineLookupOK("drillstring", "mse"), prevMSE)

	c.mu.Lock()
	c.prev, c.havePrev, c.prevMSE = p, true, m.MSE
	c.packetIndex++
	packetIndex := c.packetIndex
	c.mu.Unlock()

	worstZ, breaches, anomalyDetected, triggerMetric, triggerValue := c.evaluateBaselines(p, m)

	entry := types.HistoryEntry{Packet: p, Metrics: m}
	c.ring.Push(entry)

	if p.RigState == types.RigStateDrilling || p.RigState == types.RigStateReaming {
		for _, id := range monitoredChannels {
			if v, ok := channelValue(m, id.Metric); ok {
				c.observeBaseline(id, v)
			}
		}
	}

	sig := tactical.Signal{
		RigState:        p.RigState,
		Category:        categoryFor(triggerMetric),
		TriggerMetricID: triggerMetric,
		TriggerValue:    triggerValue,
		WorstZScore:     worstZ,
		AnomalyDetected: anomalyDetected,
		Breaches:        breaches,
		BitDepthFt:      p.BitDepthFt,
		PacketIndex:     packetIndex,
		WallClock:       time.Now(),
	}

	ticket, ok := c.gate.Evaluate(sig)
	if !ok {
		return
	}
	ticket.ID = uuid.NewString()
	ticket.Timestamp = p.Timestamp
	ticket.Campaign = p.Campaign

	oldestFirst := c.ring.SnapshotAll()
	ticket.CausalLeads = causal.Detect(oldestFirst)

	window := c.ring.SnapshotLast(c.ring.Cap())
	verdict, severity := strategic.Verify(ticket, window, c.ring.Cap(), c.cfg.CumulativeLim)
	if verdict == types.VerifierRejected {
		if c.eventBus != nil {
			_ = c.eventBus.Publish(events.Event{Category: events.CategoryPipeline, Type: "ticket_rejected", Fields: map[string]interface{}{"category": ticket.Category.String()}})
		}
		return
	}
	ticket.InitialSeverity = severity

	votes := make([]types.SpecialistVote, 0, len(c.specs))
	for _, sp := range c.specs {
		votes = append(votes, sp.Evaluate(ticket, m, window, c.cfg.Specialists))
	}

	vr := orchestrator.Vote(votes, c.cfg.Weights, 0)

	adv, emitted := c.composer.Compose(ctx, vr, ticket, m, nil, time.Now())
	if !emitted {
		return
	}
	adv.WellID = p.WellID
	select {
	case c.advCh <- adv:
	default:
		if c.logger != nil {
			c.logger.WarnCtx(ctx, "advisory broadcast channel full; dropping")
		}
	}
	if c.eventBus != nil {
		_ = c.eventBus.Publish(events.Event{Category: events.CategoryAdvisory, Type: "advisory_emitted", Severity: adv.RiskLevel.String()})
	}
}

func (c *Coordinator) observeBaseline(id types.EquipmentID, v float64) {
	switch c.baselines.StateOf(id) {
	case baseline.StateUnstarted:
		c.baselines.StartLearning(id)
		c.baselines.Observe(id, v)
	case baseline.StateLearning:
		c.baselines.Observe(id, v)
		if _, err := c.baselines.FinalizeLearning(id); err == nil {
			if c.eventBus != nil {
				_ = c.eventBus.Publish(events.Event{Category: events.CategoryBaseline, Type: "locked", Fields: map[string]interface{}{"equipment": id.Equipment, "metric": id.Metric}})
			}
		}
	}
}

func (c *Coordinator) baselineLookup(equipment, metric string) float64 {
	thr, ok := c.baselines.Lookup(types.EquipmentID{Equipment: equipment, Metric: metric})
	if !ok {
		return 0
	}
	return thr.Mean
}

func (c *Coordinator) baselineLookupOK(equipment, metric string) bool {
	_, ok := c.baselines.Lookup(types.EquipmentID{Equipment: equipment, Metric: metric})
	return ok
}

// evaluateBaselines checks every locked channel's current value against its
// threshold, returning the worst (largest magnitude) z-score seen, the full
// breach list, whether any channel breached at all, and the identity of the
// worst-breaching channel for ticket attribution.
func (c *Coordinator) evaluateBaselines(p types.Packet, m types.Metrics) (worstZ float64, breaches []types.ThresholdBreach, anomalyDetected bool, triggerMetric string, triggerValue float64) {
	for _, id := range monitoredChannels {
		v, ok := channelValue(m, id.Metric)
		if !ok {
			continue
		}
		thr, locked := c.baselines.Lookup(id)
		if !locked {
			continue
		}
		z, level := thr.CheckAnomaly(v)
		if level == types.AnomalyNormal {
			continue
		}
		breaches = append(breaches, types.ThresholdBreach{MetricID: id.Metric, ZScore: z, Level: level})
		anomalyDetected = true
		if absF(z) > absF(worstZ) {
			worstZ = z
			triggerMetric = id.Metric
			triggerValue = v
		}
	}
	return
}

func categoryFor(metric string) types.Category {
	switch metric {
	case "ecd_margin":
		return types.CategoryHydraulic
	case "flow_balance":
		return types.CategoryWellControl
	case "d_exponent":
		return types.CategoryFormation
	default:
		return types.CategoryMSE
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func marshalReport(report types.MLReport) ([]byte, error) {
	return json.Marshal(report)
}

// PersistBaselines serializes the locked baselines and writes them atomically
// to path; the facade calls this on state-transition events with retry.
func (c *Coordinator) PersistBaselines(path string) error {
	data, err := c.baselines.Snapshot()
	if err != nil {
		return err
	}
	return store.AtomicWriteFile(path, data, 0o644)
}

// RunMLAnalyzer runs the background ML analyzer on a fixed interval until ctx
// is canceled, writing each report to reports and publishing an
// ml_report_generated event on the event bus.
func (c *Coordinator) RunMLAnalyzer(ctx context.Context, interval time.Duration, mlCfg ml.Config, campaign types.Campaign, wellID, field string, reports *store.ReportStore) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				entries := c.ring.SnapshotAll()
				report := ml.Analyze(entries, mlCfg, campaign, wellID, field)
				if report.Generated.IsZero() {
					report.Generated = time.Now()
				}
				if reports != nil {
					key := store.NewMLReportKey(field, wellID, campaign.String(), report.Generated)
					if data, err := marshalReport(report); err == nil {
						_ = reports.Put(key, data)
					}
				}
				if c.eventBus != nil {
					_ = c.eventBus.Publish(events.Event{Category: events.CategoryMLReport, Type: "ml_report_generated"})
				}
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}
