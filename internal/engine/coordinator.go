package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"conclave/internal/config"
	"conclave/internal/protocol"
	"conclave/internal/roster"
	"github.com/google/uuid"
)

// Store persists run records. The coordinator writes on submission and at
// every status change; a nil store keeps runs in memory only.
type Store interface {
	SaveRun(r *Run) error
}

// Submission is a request to execute one protocol run.
type Submission struct {
	ProtocolID   string   `json:"protocol_id"`
	Question     string   `json:"question"`
	Workers      []string `json:"workers"`
	Rounds       int      `json:"rounds,omitempty"`
	ToolsEnabled bool     `json:"tools_enabled,omitempty"`
}

// Coordinator owns the run lifecycle: submission validation, execution on a
// background goroutine, cancellation, event subscription and the in-memory
// run index.
type Coordinator struct {
	cfg    config.EngineConfig
	reg    *protocol.Registry
	roster roster.Roster
	exec   *Executor
	store  Store
	sinks  []EventSink
	log    *slog.Logger

	mu     sync.Mutex
	runs   map[string]*Run
	active map[string]*activeRun
}

type activeRun struct {
	emitter *Emitter
	cancel  context.CancelFunc
	done    sync.Once
}

func NewCoordinator(cfg config.EngineConfig, reg *protocol.Registry, ros roster.Roster, exec *Executor, store Store, log *slog.Logger, sinks ...EventSink) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		reg:    reg,
		roster: ros,
		exec:   exec,
		store:  store,
		sinks:  sinks,
		log:    log,
		runs:   make(map[string]*Run),
		active: make(map[string]*activeRun),
	}
}

// Submit validates a submission against the catalogue and the roster, then
// starts the run in the background. Configuration errors never produce a
// run.
func (c *Coordinator) Submit(sub Submission) (*Run, error) {
	def, err := c.reg.Get(sub.ProtocolID)
	if err != nil {
		return nil, err
	}
	if sub.Question == "" {
		return nil, fmt.Errorf("empty question")
	}

	workers := c.roster
	if len(sub.Workers) > 0 {
		workers, err = c.roster.Subset(sub.Workers)
		if err != nil {
			return nil, err
		}
	}
	if n := len(workers); n < def.MinWorkers || n > def.MaxWorkers {
		return nil, fmt.Errorf("protocol %s needs between %d and %d workers, got %d",
			def.ID, def.MinWorkers, def.MaxWorkers, n)
	}

	rounds := sub.Rounds
	if rounds <= 0 {
		rounds = c.cfg.DefaultRounds
	}
	if rounds > c.cfg.MaxRounds {
		return nil, fmt.Errorf("rounds %d exceeds the cap of %d", rounds, c.cfg.MaxRounds)
	}
	if rounds > 1 && !def.SupportsRounds {
		rounds = 1
	}

	run := &Run{
		ID:           uuid.NewString(),
		ProtocolID:   def.ID,
		Question:     sub.Question,
		Roster:       workers,
		Rounds:       rounds,
		ToolsEnabled: sub.ToolsEnabled,
		Status:       StatusPending,
		StartedAt:    time.Now().UTC(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		emitter: NewEmitter(run.ID, c.sinks...),
		cancel:  cancel,
	}

	c.mu.Lock()
	c.runs[run.ID] = run
	c.active[run.ID] = ar
	c.mu.Unlock()
	c.persist(run)

	go c.execute(ctx, def, run, ar)
	return run, nil
}

func (c *Coordinator) execute(ctx context.Context, def *protocol.Definition, run *Run, ar *activeRun) {
	defer ar.cancel()

	c.setStatus(run, StatusRunning)
	c.log.Info("run started", "id", run.ID, "protocol", run.ProtocolID, "workers", len(run.Roster))
	ar.emitter.Emit(EventRunStart, map[string]any{
		"protocol": run.ProtocolID,
		"question": run.Question,
		"roster":   run.Roster.Keys(),
	})

	cost := &Cost{}
	rc := &protocol.RunContext{
		Question:     run.Question,
		MaxRounds:    run.Rounds,
		Workers:      run.Roster,
		History:      &protocol.History{},
		ToolsEnabled: run.ToolsEnabled,
	}

	results, converged, err := NewController(c.exec).Execute(ctx, def, rc, ar.emitter, cost)

	c.mu.Lock()
	run.PhaseResults = results
	run.Cost = cost.Snapshot()
	if len(results) > 0 {
		if text, ok := results[len(results)-1].Artifact.(string); ok {
			run.FinalText = text
		}
	}
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		c.finish(run, ar, StatusAborted, "")
	case err != nil:
		c.finish(run, ar, StatusFailed, err.Error())
	case !converged:
		c.finish(run, ar, StatusNoConvergence, "")
	default:
		c.finish(run, ar, StatusCompleted, "")
	}
}

// finish freezes a run: exactly one terminal event, then the stream closes
// and no further events are emitted.
func (c *Coordinator) finish(run *Run, ar *activeRun, status Status, errText string) {
	ar.done.Do(func() {
		c.mu.Lock()
		run.Status = status
		run.Error = errText
		run.CompletedAt = time.Now().UTC()
		elapsed := run.CompletedAt.Sub(run.StartedAt)
		delete(c.active, run.ID)
		c.mu.Unlock()

		ar.emitter.Emit(EventRunComplete, map[string]any{
			"status":  string(status),
			"elapsed": elapsed.String(),
			"cost":    run.Cost,
		})
		ar.emitter.Close()
		c.persist(run)
		c.log.Info("run finished", "id", run.ID, "status", status, "elapsed", elapsed, "calls", run.Cost.Calls)
	})
}

// Cancel requests cancellation of a live run. In-flight worker calls are
// asked to abort; the terminal event follows once the current phase winds
// down.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	ar, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not active", id)
	}
	ar.cancel()
	return nil
}

// Subscribe attaches to a live run's event stream. Terminal runs have no
// stream; callers read the stored record instead.
func (c *Coordinator) Subscribe(id string) (<-chan Event, func(), error) {
	c.mu.Lock()
	ar, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("run %s is not active", id)
	}
	ch, cancel := ar.emitter.Subscribe()
	return ch, cancel, nil
}

// Get returns a snapshot of one run. The copy is safe to read while the
// run goroutine keeps mutating the original.
func (c *Coordinator) Get(id string) (Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// List returns snapshots of all known runs, newest first.
func (c *Coordinator) List() []Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Run, 0, len(c.runs))
	for _, r := range c.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (c *Coordinator) setStatus(run *Run, s Status) {
	c.mu.Lock()
	if !run.Status.Terminal() {
		run.Status = s
	}
	c.mu.Unlock()
	c.persist(run)
}

func (c *Coordinator) persist(run *Run) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveRun(run); err != nil {
		c.log.Error("persist run", "id", run.ID, "error", err)
	}
}
