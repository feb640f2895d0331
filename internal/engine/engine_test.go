package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"conclave/internal/config"
	"conclave/internal/gateway"
	"conclave/internal/protocol"
	"conclave/internal/roster"
	"github.com/stretchr/testify/require"
)

// fakeGateway routes invocations to a scripted handler.
type fakeGateway struct {
	fn func(ctx context.Context, req gateway.Request) (*gateway.Reply, error)
}

func (f *fakeGateway) Invoke(ctx context.Context, req gateway.Request) (*gateway.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, &gateway.Error{Reason: gateway.FailureCancelled, Err: err}
	}
	return f.fn(ctx, req)
}

func reply(text string) (*gateway.Reply, error) {
	return &gateway.Reply{Text: text, Usage: gateway.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

// eventLog is a sink collecting every event in order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func testCoordinator(t *testing.T, gw gateway.Gateway, sinks ...EventSink) *Coordinator {
	t.Helper()
	reg, err := protocol.NewRegistry()
	require.NoError(t, err)

	ros := roster.Roster{
		{Key: "analyst", Name: "Analyst", Role: "You analyze."},
		{Key: "skeptic", Name: "Skeptic", Role: "You doubt."},
		{Key: "builder", Name: "Builder", Role: "You construct."},
	}
	cfg := config.EngineConfig{
		MaxConcurrentCalls: 4,
		CallTimeout:        2 * time.Second,
		DefaultRounds:      3,
		MaxRounds:          10,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(gw, int64(cfg.MaxConcurrentCalls), cfg.CallTimeout, log)
	return NewCoordinator(cfg, reg, ros, exec, nil, log, sinks...)
}

func waitTerminal(t *testing.T, c *Coordinator, id string) Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := c.Get(id)
		require.True(t, ok)
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal state")
	return Run{}
}

func TestParallelSynthesisCompletes(t *testing.T) {
	gw := &fakeGateway{fn: func(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
		if strings.Contains(req.Prompt, "Synthesize") {
			return reply("combined answer")
		}
		return reply("individual answer from " + req.Worker.Key)
	}}
	log := &eventLog{}
	c := testCoordinator(t, gw, log.sink)

	run, err := c.Submit(Submission{ProtocolID: "parallel-synthesis", Question: "What should we do?"})
	require.NoError(t, err)

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, "combined answer", final.FinalText)
	require.Len(t, final.PhaseResults, 2)
	require.Equal(t, int64(4), final.Cost.Calls) // 3 answers + 1 synthesis

	events := log.all()
	require.Equal(t, EventRunStart, events[0].Type)
	require.Equal(t, EventRunComplete, events[len(events)-1].Type)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Seq, events[i-1].Seq, "seq must be strictly increasing")
	}
}

func TestDelphiConvergesFirstRound(t *testing.T) {
	values := map[string]float64{"analyst": 40, "skeptic": 41, "builder": 39}
	gw := &fakeGateway{fn: func(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
		if strings.Contains(req.Prompt, "estimation panel") {
			return reply(fmt.Sprintf(`{"value": %g, "low": 30, "high": 50, "reasoning": "gut"}`, values[req.Worker.Key]))
		}
		return reply("the panel settles on 40")
	}}
	c := testCoordinator(t, gw)

	run, err := c.Submit(Submission{ProtocolID: "delphi", Question: "How many?", Rounds: 3})
	require.NoError(t, err)

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusCompleted, final.Status)

	// One estimation round, one stats step, one synthesis.
	var rounds int
	for _, pr := range final.PhaseResults {
		if pr.Name == "estimate" {
			rounds++
		}
	}
	require.Equal(t, 1, rounds, "a converged first round must not loop")
}

func TestDelphiExhaustsCapWithoutConvergence(t *testing.T) {
	values := map[string]float64{"analyst": 10, "skeptic": 50, "builder": 90}
	gw := &fakeGateway{fn: func(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
		if strings.Contains(req.Prompt, "estimation panel") {
			return reply(fmt.Sprintf(`{"value": %g, "low": 0, "high": 100}`, values[req.Worker.Key]))
		}
		return reply("no consensus; spread remains wide")
	}}
	c := testCoordinator(t, gw)

	run, err := c.Submit(Submission{ProtocolID: "delphi", Question: "How many?", Rounds: 3})
	require.NoError(t, err)

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusNoConvergence, final.Status)
	require.NotEmpty(t, final.FinalText, "non-convergence still carries the best available result")

	var rounds int
	for _, pr := range final.PhaseResults {
		if pr.Name == "estimate" {
			rounds++
		}
	}
	require.Equal(t, 3, rounds, "the loop must run to the cap")
}

func TestDebateRunsFixedRebuttalRounds(t *testing.T) {
	var mu sync.Mutex
	rebuttals := 0
	gw := &fakeGateway{fn: func(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
		if strings.Contains(req.Prompt, "Debate round") {
			mu.Lock()
			rebuttals++
			mu.Unlock()
		}
		return reply("statement from " + req.Worker.Key)
	}}
	c := testCoordinator(t, gw)

	run, err := c.Submit(Submission{
		ProtocolID: "debate",
		Question:   "Tabs or spaces?",
		Workers:    []string{"analyst", "skeptic"},
		Rounds:     2,
	})
	require.NoError(t, err)

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusCompleted, final.Status, "a fixed-cap loop finishing is a normal completion")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 4, rebuttals) // 2 workers x 2 rounds
}

func TestStrictPhaseFailureFailsRun(t *testing.T) {
	gw := &fakeGateway{fn: func(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
		// The option-framing phase is strict and needs JSON; prose fails it.
		return reply("I refuse to answer in JSON.")
	}}
	c := testCoordinator(t, gw)

	run, err := c.Submit(Submission{ProtocolID: "borda", Question: "Pick a direction."})
	require.NoError(t, err)

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusFailed, final.Status)
	require.Contains(t, final.Error, "frame_options")
}

// A strict fan-out phase must name the worker whose failure aborted it, not
// a worker that was merely cancelled as a consequence.
func TestStrictFailureNamesRootCause(t *testing.T) {
	gw := &fakeGateway{fn: func(ctx context.Context, req gateway.Request) (*gateway.Reply, error) {
		if req.Worker.Key == "skeptic" {
			return nil, &gateway.Error{Reason: gateway.FailureRateLimited, Err: fmt.Errorf("worker reported: rate_limited")}
		}
		// Everyone else hangs until the phase-wide cancel reaches them.
		<-ctx.Done()
		return nil, &gateway.Error{Reason: gateway.FailureCancelled, Err: ctx.Err()}
	}}

	ros := roster.Roster{
		{Key: "analyst", Name: "Analyst", Role: "You analyze."},
		{Key: "skeptic", Name: "Skeptic", Role: "You doubt."},
		{Key: "builder", Name: "Builder", Role: "You construct."},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(gw, 4, 2*time.Second, log)

	phase := protocol.PhaseSpec{
		Name:   "positions",
		Kind:   protocol.FanOutGenerate,
		Policy: protocol.Strict,
		Prompt: func(rc *protocol.RunContext, w roster.Worker) string { return "state your position" },
	}
	rc := &protocol.RunContext{
		Question:  "Q",
		Round:     1,
		MaxRounds: 1,
		Workers:   ros,
		History:   &protocol.History{},
	}

	em := NewEmitter("run-strict")
	_, err := exec.RunPhase(context.Background(), 0, &phase, rc, em, &Cost{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "skeptic", "the error must name the root-cause worker")
	require.NotContains(t, err.Error(), "analyst")
	require.Equal(t, gateway.FailureRateLimited, gateway.ReasonOf(err))
}

func TestBestEffortRecordsFailedWorker(t *testing.T) {
	gw := &fakeGateway{fn: func(_ context.Context, req gateway.Request) (*gateway.Reply, error) {
		if req.Worker.Key == "skeptic" && !strings.Contains(req.Prompt, "Synthesize") {
			return nil, &gateway.Error{Reason: gateway.FailureTimeout}
		}
		if strings.Contains(req.Prompt, "Synthesize") {
			return reply("synthesis over the survivors")
		}
		return reply("answer")
	}}
	c := testCoordinator(t, gw)

	run, err := c.Submit(Submission{ProtocolID: "parallel-synthesis", Question: "Q"})
	require.NoError(t, err)

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, gateway.FailureTimeout, final.PhaseResults[0].PerWorker["skeptic"].Failure)
	require.Empty(t, final.PhaseResults[0].PerWorker["analyst"].Failure)
}

func TestCancelMidPhase(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	gw := &fakeGateway{fn: func(ctx context.Context, req gateway.Request) (*gateway.Reply, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, &gateway.Error{Reason: gateway.FailureCancelled, Err: ctx.Err()}
	}}
	c := testCoordinator(t, gw)

	run, err := c.Submit(Submission{ProtocolID: "parallel-synthesis", Question: "Q"})
	require.NoError(t, err)

	events, stop, err := c.Subscribe(run.ID)
	require.NoError(t, err)
	defer stop()

	<-started
	require.NoError(t, c.Cancel(run.ID))

	final := waitTerminal(t, c, run.ID)
	require.Equal(t, StatusAborted, final.Status)

	// The stream must close after exactly one terminal event, with seq
	// strictly increasing throughout.
	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
	}
	require.NotEmpty(t, seen)
	require.Equal(t, EventRunComplete, seen[len(seen)-1].Type)
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i].Seq, seen[i-1].Seq)
	}
	for _, ev := range seen[:len(seen)-1] {
		require.NotEqual(t, EventRunComplete, ev.Type, "only one terminal event")
	}
}

func TestSubmitValidation(t *testing.T) {
	c := testCoordinator(t, &fakeGateway{fn: func(_ context.Context, _ gateway.Request) (*gateway.Reply, error) {
		return reply("ok")
	}})

	_, err := c.Submit(Submission{ProtocolID: "unknown", Question: "Q"})
	require.Error(t, err, "unknown protocol must be rejected")

	_, err = c.Submit(Submission{ProtocolID: "parallel-synthesis"})
	require.Error(t, err, "empty question must be rejected")

	_, err = c.Submit(Submission{ProtocolID: "parallel-synthesis", Question: "Q", Workers: []string{"analyst"}})
	require.Error(t, err, "roster below the protocol minimum must be rejected")

	_, err = c.Submit(Submission{ProtocolID: "parallel-synthesis", Question: "Q", Workers: []string{"analyst", "ghost"}})
	require.Error(t, err, "unknown worker keys must be rejected")

	_, err = c.Submit(Submission{ProtocolID: "delphi", Question: "Q", Rounds: 99})
	require.Error(t, err, "rounds beyond the cap must be rejected")
}

func TestCancelUnknownRun(t *testing.T) {
	c := testCoordinator(t, &fakeGateway{fn: func(_ context.Context, _ gateway.Request) (*gateway.Reply, error) {
		return reply("ok")
	}})
	require.Error(t, c.Cancel("nope"))
}
