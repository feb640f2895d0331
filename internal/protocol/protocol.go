// Package protocol declares the closed catalogue of coordination protocols.
// Each protocol is a static, data-driven phase graph; the engine executes the
// graph without knowing which protocol it belongs to. Adding a protocol means
// adding a Definition here, never new control-flow code elsewhere.
package protocol

import "conclave/internal/roster"

// Kind tags the phase variants the executor knows how to run.
type Kind string

const (
	// FanOutGenerate invokes every selected worker in parallel.
	FanOutGenerate Kind = "fan_out_generate"
	// DeterministicAggregate runs one pure aggregation function over
	// already-collected outputs. No worker calls.
	DeterministicAggregate Kind = "deterministic_aggregate"
	// LLMAggregate asks a worker (the lead, by default) to consolidate
	// prior outputs into one artifact.
	LLMAggregate Kind = "llm_aggregate"
	// FanInSynthesize invokes a single designated worker with the full
	// accumulated context to produce the final text.
	FanInSynthesize Kind = "fan_in_synthesize"
)

// FailurePolicy decides what a worker failure does to its phase.
type FailurePolicy string

const (
	// Strict aborts the phase, and with it the run, on any worker failure.
	Strict FailurePolicy = "strict"
	// BestEffort records failed workers as absent and aggregates over
	// whatever arrived.
	BestEffort FailurePolicy = "best_effort"
)

// RunContext is the read view a phase gets of its run: the question, the
// roster, the current round and the accumulated history. Phases never write
// to it directly; the executor appends to History on their behalf.
type RunContext struct {
	Question     string
	Round        int // 1-based
	MaxRounds    int
	Workers      roster.Roster
	History      *History
	ToolsEnabled bool
}

// PhaseSpec is one step of a protocol's phase graph.
//
// Select narrows the roster for this phase; nil means every worker for
// fan-out kinds and the lead worker for LLMAggregate/FanInSynthesize.
// Prompt builds the text sent to one worker. Parse turns a worker's raw
// reply into a typed artifact; nil keeps the raw text. Aggregate runs the
// deterministic step for DeterministicAggregate phases. When gates the
// phase; a false return skips it entirely.
type PhaseSpec struct {
	Name      string
	Kind      Kind
	Policy    FailurePolicy
	Select    func(rc *RunContext) roster.Roster
	Prompt    func(rc *RunContext, w roster.Worker) string
	Parse     func(workerKey, text string) (any, error)
	Aggregate func(rc *RunContext) (any, error)
	When      func(rc *RunContext) bool
}

// Targets resolves the worker subset this phase runs against.
func (p *PhaseSpec) Targets(rc *RunContext) roster.Roster {
	if p.Select != nil {
		return p.Select(rc)
	}
	switch p.Kind {
	case FanOutGenerate:
		return rc.Workers
	case LLMAggregate, FanInSynthesize:
		return roster.Roster{rc.Workers.Lead()}
	default:
		return nil
	}
}

// LoopPolicy marks a contiguous phase span [StartPhase, EndPhase] that the
// round controller repeats. Stop is the convergence predicate, evaluated
// after EndPhase completes; a nil Stop makes the loop a plain fixed-round
// cap, which is a normal completion, not a convergence failure.
type LoopPolicy struct {
	StartPhase int
	EndPhase   int
	Stop       func(rc *RunContext) bool
}

// Definition is one protocol: its capability card plus its phase graph.
// Definitions are built once at startup and shared read-only across runs.
type Definition struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	ProblemTypes   []string `json:"problem_types"`
	CostTier       string   `json:"cost_tier"`
	MinWorkers     int      `json:"min_workers"`
	MaxWorkers     int      `json:"max_workers"`
	SupportsRounds bool     `json:"supports_rounds"`
	Description    string   `json:"description"`

	Phases []PhaseSpec `json:"-"`
	Loop   *LoopPolicy `json:"-"`
}
