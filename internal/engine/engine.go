// Package engine implements the orchestrator (C9): it drives every event
// through TimeAligner -> Sanitizer -> OrderBookReplayer -> DataTrustPolicy
// -> HypothesisPolicy -> DecisionMachine, tracks dwell/stats, and emits
// output records. Ported from core/engine.py.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"marketdata-trust-engine/internal/align"
	"marketdata-trust-engine/internal/decision"
	"marketdata-trust-engine/internal/hypothesis"
	"marketdata-trust-engine/internal/orderbook"
	"marketdata-trust-engine/internal/sanitize"
	"marketdata-trust-engine/internal/stats"
	"marketdata-trust-engine/internal/trust"
	"marketdata-trust-engine/pkg/types"
)

// Writer is the output sink contract the engine writes to. Implemented
// by internal/output.Writer.
type Writer interface {
	WriteStateTransition(rec StateTransitionRecord) error
	WriteDecision(rec DecisionRecord) error
	WriteSummary(summary stats.Summary) error
}

// StateTransitionRecord is emitted once per processed event and per
// stall tick.
type StateTransitionRecord struct {
	Ts         int64  `json:"ts"`
	DataTrust  string `json:"data_trust"`
	Hypothesis string `json:"hypothesis"`
	Decision   string `json:"decision"`
	Trigger    string `json:"trigger"`
}

// DecisionRecord is emitted once per distinct (decision, trigger) span,
// when the span ends.
type DecisionRecord struct {
	Ts         int64   `json:"ts"`
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	DurationMs float64 `json:"duration_ms"`
}

// StallThresholds holds the per-stream stall threshold in microseconds.
type StallThresholds map[types.Stream]int64

// Config bundles every per-component threshold the engine wires up.
type Config struct {
	AllowedLatenessUs int64
	MaxBufferUs       int64
	DepthLimit        int
	Sanitize          sanitize.Config
	Trust             trust.Thresholds
	Hypothesis        hypothesis.Thresholds
	StallThresholds   StallThresholds
}

// Engine is the single-threaded (w.r.t. state mutation) orchestrator.
// Ingest and Tick share one mutex, per spec.md §5.
type Engine struct {
	mu sync.Mutex

	aligner    *align.Aligner
	sanitizer  *sanitize.Sanitizer
	replayer   *orderbook.Replayer
	trust      *trust.Policy
	hypothesis *hypothesis.Policy
	stats      *stats.EngineStats
	writer     Writer
	logger     *slog.Logger

	cfg   Config
	state types.EngineState

	currentTrigger     string
	decisionEnterUs    int64
	lastIngestByStream map[types.Stream]int64
	startUs            int64
}

// New wires every C1-C8 component together from cfg.
func New(cfg Config, writer Writer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	now := nowUs()
	replayer := orderbook.NewReplayer(cfg.DepthLimit)

	e := &Engine{
		aligner:            align.New(cfg.AllowedLatenessUs, cfg.MaxBufferUs),
		sanitizer:          sanitize.New(cfg.Sanitize),
		replayer:           replayer,
		trust:              trust.New(cfg.Trust, replayer),
		hypothesis:         hypothesis.New(cfg.Hypothesis, replayer),
		stats:              stats.NewEngineStats(now),
		writer:             writer,
		logger:             logger.With("component", "engine"),
		cfg:                cfg,
		state:              types.NewEngineState(),
		lastIngestByStream: make(map[types.Stream]int64),
		startUs:            now,
		decisionEnterUs:    now,
	}
	return e
}

func nowUs() int64 {
	return time.Now().UnixMicro()
}

// Ingest processes one adapter event through the full pipeline.
func (e *Engine) Ingest(ev types.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	nowTs := nowUs()
	e.lastIngestByStream[ev.Stream] = nowTs

	aligned, alignStats := e.aligner.Align(ev)
	e.trust.OnBatch(ev.Stream, alignStats)

	for _, alignedEv := range aligned {
		sanState, fixedEv, sanReason := e.sanitizer.Sanitize(alignedEv)
		e.setSanitization(sanState, nowTs)

		if alignedEv.Stream == types.StreamOrderBook && sanState != types.SanitizationQuarantine {
			e.replayer.OnEvent(alignedEv, time.UnixMicro(nowTs))
		}

		e.trust.OnEvent(fixedEv.Stream, sanState, alignedEv)
		trustState, trustReason := e.trust.Global()
		e.setDataTrust(trustState, nowTs)

		hypoState, hypoReason := e.hypothesis.Verify(fixedEv, nowTs)
		e.setHypothesis(hypoState, nowTs)

		trigger := composeTrigger(hypoReason, trustReason, sanReason)
		e.setDecision(nowTs, trigger)

		e.stats.OnEvent(sanState, trustState, hypoState, e.state.Decision)
	}
	return nil
}

// composeTrigger joins the non-empty reasons in order
// hypothesis | data_trust | sanitization, each labeled.
func composeTrigger(hypoReason, trustReason, sanReason string) string {
	var parts []string
	if hypoReason != "" {
		parts = append(parts, "hypothesis:"+hypoReason)
	}
	if trustReason != "" {
		parts = append(parts, "data_trust:"+trustReason)
	}
	if sanReason != "" {
		parts = append(parts, "sanitization:"+sanReason)
	}
	return strings.Join(parts, " | ")
}

func (e *Engine) setSanitization(newState types.SanitizationState, nowUs int64) {
	if newState == e.state.Sanitization {
		return
	}
	e.stats.SwitchSan(string(newState), nowUs)
	e.state.Sanitization = newState
}

func (e *Engine) setDataTrust(newState types.DataTrustState, nowUs int64) {
	if newState == e.state.DataTrust {
		return
	}
	e.stats.SwitchTrust(string(newState), nowUs)
	e.state.DataTrust = newState
}

func (e *Engine) setHypothesis(newState types.HypothesisState, nowUs int64) {
	if newState == e.state.Hypothesis {
		return
	}
	e.stats.SwitchHypo(string(newState), nowUs)
	e.state.Hypothesis = newState
}

// setDecision recomputes the decision from the current (trust, hypothesis)
// pair. If either the decision or the trigger text changed, it closes the
// previous decision span (emitting a DECISION record for it) before
// entering the new one. A STATE_TRANSITION record is always emitted.
func (e *Engine) setDecision(nowTs int64, trigger string) {
	newDecision := decision.Compute(e.state.DataTrust, e.state.Hypothesis)

	if newDecision != e.state.Decision || trigger != e.currentTrigger {
		prevDecision := e.state.Decision
		prevReason := e.currentTrigger
		durationMs := float64(nowTs-e.decisionEnterUs) / 1000.0

		if err := e.writer.WriteDecision(DecisionRecord{
			Ts:         e.decisionEnterUs,
			Action:     string(prevDecision),
			Reason:     prevReason,
			DurationMs: durationMs,
		}); err != nil {
			e.logger.Error("failed to write decision record", "error", err)
		}

		e.stats.SwitchDecision(string(newDecision), nowTs)
		e.state.Decision = newDecision
		e.currentTrigger = trigger
		e.decisionEnterUs = nowTs
	}

	if err := e.writer.WriteStateTransition(StateTransitionRecord{
		Ts:         nowTs,
		DataTrust:  string(e.state.DataTrust),
		Hypothesis: string(e.state.Hypothesis),
		Decision:   string(e.state.Decision),
		Trigger:    trigger,
	}); err != nil {
		e.logger.Error("failed to write state transition record", "error", err)
	}
}

// Tick runs the periodic stall check (C9's stall-tick responsibility).
// Any stream whose last ingest exceeds its configured stall threshold
// forces DEGRADED/WEAKENING and a "stall:<streams>" trigger.
func (e *Engine) Tick(nowTs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stalled []string
	for _, s := range types.Streams {
		threshold, ok := e.cfg.StallThresholds[s]
		if !ok {
			continue
		}
		last, seen := e.lastIngestByStream[s]
		if !seen {
			continue
		}
		if nowTs-last > threshold {
			stalled = append(stalled, string(s))
		}
	}
	if len(stalled) == 0 {
		return
	}

	e.setDataTrust(types.DataTrustDegraded, nowTs)
	e.setHypothesis(types.HypothesisWeakening, nowTs)
	trigger := fmt.Sprintf("stall:%s", strings.Join(stalled, ","))
	e.setDecision(nowTs, trigger)
}

// Shutdown emits a final DECISION record for the in-flight span,
// finalizes stats, and writes the summary.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	nowTs := nowUs()
	durationMs := float64(nowTs-e.decisionEnterUs) / 1000.0
	if err := e.writer.WriteDecision(DecisionRecord{
		Ts:         e.decisionEnterUs,
		Action:     string(e.state.Decision),
		Reason:     e.currentTrigger,
		DurationMs: durationMs,
	}); err != nil {
		e.logger.Error("failed to write final decision record", "error", err)
	}

	summary := e.stats.Finalize(nowTs)
	return e.writer.WriteSummary(summary)
}
