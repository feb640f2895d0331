// Package engine executes protocol runs: it fans phases out to workers with
// bounded concurrency, drives round loops to their stopping condition, and
// streams ordered events while a run is live.
package engine

import (
	"sync/atomic"
	"time"

	"conclave/internal/gateway"
	"conclave/internal/roster"
)

// Status is a run's lifecycle state. Transitions are monotonic; a terminal
// run is never resurrected.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	// StatusNoConvergence is a completed run whose round loop exhausted its
	// cap without meeting the stopping predicate. The result still carries
	// the best available artifact.
	StatusNoConvergence Status = "completed_without_convergence"
	StatusFailed        Status = "failed"
	StatusAborted       Status = "aborted"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoConvergence, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// WorkerOutput is one worker's contribution to a phase: its text, or the
// failure that replaced it.
type WorkerOutput struct {
	Text    string                `json:"text,omitempty"`
	Failure gateway.FailureReason `json:"failure,omitempty"`
}

// PhaseResult is the immutable record of one executed phase. It is written
// exactly once, when the phase closes.
type PhaseResult struct {
	Index     int                     `json:"index"`
	Name      string                  `json:"name"`
	Kind      string                  `json:"kind"`
	Round     int                     `json:"round"`
	PerWorker map[string]WorkerOutput `json:"per_worker,omitempty"`
	Artifact  any                     `json:"artifact,omitempty"`
	Elapsed   time.Duration           `json:"elapsed"`
}

// Cost accumulates usage across concurrently completing worker calls.
type Cost struct {
	calls        atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

func (c *Cost) add(u gateway.Usage) {
	c.calls.Add(1)
	c.inputTokens.Add(int64(u.InputTokens))
	c.outputTokens.Add(int64(u.OutputTokens))
}

// CostSnapshot is a point-in-time copy of the counters, safe to serialize.
type CostSnapshot struct {
	Calls        int64 `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (c *Cost) Snapshot() CostSnapshot {
	return CostSnapshot{
		Calls:        c.calls.Load(),
		InputTokens:  c.inputTokens.Load(),
		OutputTokens: c.outputTokens.Load(),
	}
}

// Run is the complete record of one protocol execution: submission,
// lifecycle, per-phase results and final artifact. Only the coordinator
// goroutine that owns the run mutates it.
type Run struct {
	ID           string        `json:"id"`
	ProtocolID   string        `json:"protocol_id"`
	Question     string        `json:"question"`
	Roster       roster.Roster `json:"roster"`
	Rounds       int           `json:"rounds"`
	ToolsEnabled bool          `json:"tools_enabled,omitempty"`
	Status       Status        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at,omitempty"`
	PhaseResults []PhaseResult `json:"phase_results,omitempty"`
	FinalText    string        `json:"final_text,omitempty"`
	Cost         CostSnapshot  `json:"cost"`
	Error        string        `json:"error,omitempty"`
}
