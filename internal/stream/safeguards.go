package stream

import (
	"fmt"
	"time"

	"github.com/mingmingshen/neomind/internal/events"
)

// AbsoluteMaxToolIterations is the hard ceiling on tool rounds per
// turn. Configuration and presets can lower it but never raise it.
const AbsoluteMaxToolIterations = 10

// Phase labels for progress events.
const (
	PhaseThinking   = "thinking"
	PhaseExecuting  = "executing"
	PhaseGenerating = "generating"
)

// Safeguards bounds a single turn. Zero values fall back to defaults
// when passed to the engine.
type Safeguards struct {
	// MaxStreamDuration caps the whole turn, all rounds included.
	MaxStreamDuration time.Duration
	// MaxToolIterations caps tool rounds, clamped to
	// AbsoluteMaxToolIterations.
	MaxToolIterations int
	// HeartbeatInterval is the maximum quiet stretch before a
	// heartbeat event is emitted.
	HeartbeatInterval time.Duration
	// ProgressInterval is how often a progress event is emitted while
	// a phase is active.
	ProgressInterval time.Duration
}

// DefaultSafeguards returns the standard per-turn limits.
func DefaultSafeguards() Safeguards {
	return Safeguards{
		MaxStreamDuration: 300 * time.Second,
		MaxToolIterations: 10,
		HeartbeatInterval: 10 * time.Second,
		ProgressInterval:  5 * time.Second,
	}
}

// FastSafeguards suits small low-latency models: tighter wall clock,
// fewer tool rounds.
func FastSafeguards() Safeguards {
	s := DefaultSafeguards()
	s.MaxStreamDuration = 120 * time.Second
	s.MaxToolIterations = 8
	return s
}

// ReasoningSafeguards suits large reasoning models that think at
// length before answering. The iteration preset exceeds the absolute
// ceiling and is clamped at use.
func ReasoningSafeguards() Safeguards {
	s := DefaultSafeguards()
	s.MaxStreamDuration = 600 * time.Second
	s.MaxToolIterations = 15
	return s
}

func (s Safeguards) withDefaults() Safeguards {
	d := DefaultSafeguards()
	if s.MaxStreamDuration <= 0 {
		s.MaxStreamDuration = d.MaxStreamDuration
	}
	if s.MaxToolIterations <= 0 {
		s.MaxToolIterations = d.MaxToolIterations
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = d.HeartbeatInterval
	}
	if s.ProgressInterval <= 0 {
		s.ProgressInterval = d.ProgressInterval
	}
	return s
}

// IterationCap returns the effective tool-round limit.
func (s Safeguards) IterationCap() int {
	cap := s.MaxToolIterations
	if cap <= 0 || cap > AbsoluteMaxToolIterations {
		cap = AbsoluteMaxToolIterations
	}
	return cap
}

// supervisor tracks a turn against its safeguards and emits progress,
// heartbeat and budget-warning events. It is driven cooperatively: the
// engine calls tick at loop points, so no extra goroutine or lock is
// needed.
type supervisor struct {
	cfg   Safeguards
	sink  events.Sink
	now   func() time.Time
	start time.Time

	warned       bool
	lastEmit     time.Time
	lastProgress time.Time
}

func newSupervisor(cfg Safeguards, sink events.Sink) *supervisor {
	now := time.Now
	s := &supervisor{cfg: cfg.withDefaults(), sink: sink, now: now}
	s.start = now()
	s.lastEmit = s.start
	s.lastProgress = s.start
	return s
}

// elapsed returns time since the turn started.
func (s *supervisor) elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// noteActivity records that an event reached the sink, resetting the
// heartbeat clock.
func (s *supervisor) noteActivity() {
	s.lastEmit = s.now()
}

// tick emits any due progress or heartbeat event for the given phase
// and fires the one-shot 80% budget warning.
func (s *supervisor) tick(phase string) {
	now := s.now()
	elapsed := now.Sub(s.start)

	if !s.warned && elapsed >= s.cfg.MaxStreamDuration*8/10 {
		s.warned = true
		s.sink(events.Warning(fmt.Sprintf(
			"approaching time limit (%.0fs of %.0fs used)",
			elapsed.Seconds(), s.cfg.MaxStreamDuration.Seconds())))
		s.lastEmit = now
	}

	if now.Sub(s.lastProgress) >= s.cfg.ProgressInterval {
		s.lastProgress = now
		s.sink(events.Progress(phase, elapsed.Seconds()))
		s.lastEmit = now
		return
	}

	if now.Sub(s.lastEmit) >= s.cfg.HeartbeatInterval {
		s.sink(events.Heartbeat(elapsed.Seconds()))
		s.lastEmit = now
	}
}

// overBudget reports whether the turn has used its full duration.
// Already-detected tools still execute after this trips; only new
// generation rounds stop.
func (s *supervisor) overBudget() bool {
	return s.elapsed() >= s.cfg.MaxStreamDuration
}
