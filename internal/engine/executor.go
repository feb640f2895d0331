package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conclave/internal/aggregate"
	"conclave/internal/gateway"
	"conclave/internal/protocol"
	"conclave/internal/roster"
	"golang.org/x/sync/semaphore"
)

// errPhaseSkipped marks a gated phase whose condition was false; the
// controller moves on without recording a result.
var errPhaseSkipped = errors.New("phase skipped")

// Executor runs single phases. Worker fan-out shares one weighted semaphore
// across the whole run, so concurrency stays bounded per deployment rather
// than per phase.
type Executor struct {
	gw          gateway.Gateway
	sem         *semaphore.Weighted
	callTimeout time.Duration
	log         *slog.Logger
}

func NewExecutor(gw gateway.Gateway, maxConcurrent int64, callTimeout time.Duration, log *slog.Logger) *Executor {
	return &Executor{
		gw:          gw,
		sem:         semaphore.NewWeighted(maxConcurrent),
		callTimeout: callTimeout,
		log:         log,
	}
}

// RunPhase executes one phase and appends its outputs to the run history.
// It returns errPhaseSkipped for closed gates; any other error means the
// phase failed and the run must end.
func (x *Executor) RunPhase(ctx context.Context, index int, phase *protocol.PhaseSpec, rc *protocol.RunContext, em *Emitter, cost *Cost) (*PhaseResult, error) {
	if phase.When != nil && !phase.When(rc) {
		x.log.Debug("phase gate closed", "phase", phase.Name)
		return nil, errPhaseSkipped
	}

	em.Emit(EventPhaseStart, map[string]any{"index": index, "name": phase.Name, "kind": string(phase.Kind)})
	start := time.Now()

	result := &PhaseResult{
		Index: index,
		Name:  phase.Name,
		Kind:  string(phase.Kind),
		Round: rc.Round,
	}

	var err error
	if phase.Kind == protocol.DeterministicAggregate {
		err = x.runAggregate(phase, rc, em, result)
	} else {
		err = x.runWorkers(ctx, phase, rc, em, cost, result)
	}
	result.Elapsed = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", phase.Name, err)
	}
	return result, nil
}

func (x *Executor) runAggregate(phase *protocol.PhaseSpec, rc *protocol.RunContext, em *Emitter, result *PhaseResult) error {
	artifact, err := phase.Aggregate(rc)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	result.Artifact = artifact
	rc.History.Append(protocol.Entry{Phase: phase.Name, Round: rc.Round, Artifact: artifact})
	em.Emit(EventAggregateResult, map[string]any{"index": result.Index, "name": phase.Name, "artifact": artifact})
	return nil
}

type workerOutcome struct {
	text     string
	artifact any
	err      error
}

// runWorkers fans a phase out across its target workers under the shared
// concurrency bound, with a per-call timeout. Strict phases cancel the
// remaining calls on the first failure; best-effort phases record failures
// and aggregate over what arrived.
func (x *Executor) runWorkers(ctx context.Context, phase *protocol.PhaseSpec, rc *protocol.RunContext, em *Emitter, cost *Cost, result *PhaseResult) error {
	targets := phase.Targets(rc)
	if len(targets) == 0 {
		return fmt.Errorf("no target workers: %w", aggregate.ErrInsufficientQuorum)
	}

	phaseCtx := ctx
	var cancel context.CancelFunc
	if phase.Policy == protocol.Strict {
		phaseCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	// Prompts are built up front, on the controller goroutine: prompt
	// builders read History, which is not safe to touch concurrently.
	prompts := make([]string, len(targets))
	for i, w := range targets {
		prompts[i] = phase.Prompt(rc, w)
	}

	// firstFailed is the worker whose failure came first in time. Under
	// strict policy its cancel() turns every other in-flight call into a
	// Cancelled failure, so only this one names the root cause.
	outcomes := make([]workerOutcome, len(targets))
	firstFailed := -1
	var failOnce sync.Once
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = x.invoke(phaseCtx, targets[i], prompts[i], phase, rc.ToolsEnabled, cost)
			if outcomes[i].err != nil {
				failOnce.Do(func() { firstFailed = i })
				if cancel != nil {
					cancel()
				}
			}
		}(i)
	}
	wg.Wait()

	// History appends happen here, single-writer, in roster order, so the
	// record is deterministic regardless of arrival order.
	result.PerWorker = make(map[string]WorkerOutput, len(targets))
	succeeded := 0
	for i, w := range targets {
		out := outcomes[i]
		if out.err != nil {
			reason := gateway.ReasonOf(out.err)
			result.PerWorker[w.Key] = WorkerOutput{Failure: reason}
			x.log.Warn("worker failed", "phase", phase.Name, "worker", w.Key, "reason", reason)
			em.Emit(EventError, map[string]any{"index": result.Index, "worker": w.Key, "reason": string(reason)})
			continue
		}
		succeeded++
		result.PerWorker[w.Key] = WorkerOutput{Text: out.text}
		rc.History.Append(protocol.Entry{
			Phase:    phase.Name,
			Round:    rc.Round,
			Worker:   w.Key,
			Text:     out.text,
			Artifact: out.artifact,
		})
		em.Emit(EventWorkerOutput, map[string]any{"index": result.Index, "worker": w.Key, "text": out.text})
	}
	if phase.Policy == protocol.Strict && firstFailed >= 0 {
		return fmt.Errorf("worker %s: %w", targets[firstFailed].Key, outcomes[firstFailed].err)
	}
	if succeeded == 0 {
		return fmt.Errorf("all workers failed: %w", aggregate.ErrInsufficientQuorum)
	}

	switch phase.Kind {
	case protocol.FanInSynthesize:
		// The single synthesis text doubles as the phase artifact.
		for i := range targets {
			if outcomes[i].err == nil {
				result.Artifact = outcomes[i].text
				em.Emit(EventSynthesis, map[string]any{"index": result.Index, "text": outcomes[i].text})
				break
			}
		}
	case protocol.LLMAggregate:
		// A consolidation phase promotes its parsed artifact to the phase
		// artifact so downstream phases can fetch it by phase name.
		for i := range targets {
			if outcomes[i].err == nil && outcomes[i].artifact != nil {
				result.Artifact = outcomes[i].artifact
				rc.History.Append(protocol.Entry{Phase: phase.Name, Round: rc.Round, Artifact: outcomes[i].artifact})
				em.Emit(EventAggregateResult, map[string]any{"index": result.Index, "name": phase.Name, "artifact": outcomes[i].artifact})
				break
			}
		}
	}
	return nil
}

// invoke performs one bounded, timed worker call and parses the reply at
// the phase boundary. A parse failure is a Malformed invocation failure,
// handled by the phase policy like any other.
func (x *Executor) invoke(ctx context.Context, w roster.Worker, prompt string, phase *protocol.PhaseSpec, toolsEnabled bool, cost *Cost) workerOutcome {
	if err := x.sem.Acquire(ctx, 1); err != nil {
		return workerOutcome{err: &gateway.Error{Reason: gateway.FailureCancelled, Err: err}}
	}
	defer x.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, x.callTimeout)
	defer cancel()

	reply, err := x.gw.Invoke(callCtx, gateway.Request{
		Worker:       w,
		Prompt:       prompt,
		ToolsEnabled: toolsEnabled,
	})
	if err != nil {
		return workerOutcome{err: err}
	}
	cost.add(reply.Usage)

	out := workerOutcome{text: reply.Text}
	if phase.Parse != nil {
		artifact, perr := phase.Parse(w.Key, reply.Text)
		if perr != nil {
			return workerOutcome{err: &gateway.Error{Reason: gateway.FailureMalformed, Err: perr}}
		}
		out.artifact = artifact
	}
	return out
}
