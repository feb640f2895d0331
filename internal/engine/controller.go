package engine

import (
	"context"
	"errors"

	"conclave/internal/protocol"
)

// Controller steps a run through its protocol's phase graph: strict phase
// ordering, round loops with accumulated history, and the convergence check
// at each loop boundary.
type Controller struct {
	exec *Executor
}

func NewController(exec *Executor) *Controller {
	return &Controller{exec: exec}
}

// Execute runs every phase of the definition in order, looping over the
// declared span until the stopping predicate holds or the round cap runs
// out. It reports converged=false only when a predicate existed and was
// never satisfied; a fixed-cap loop finishing its rounds is a normal
// completion.
func (c *Controller) Execute(ctx context.Context, def *protocol.Definition, rc *protocol.RunContext, em *Emitter, cost *Cost) (results []PhaseResult, converged bool, err error) {
	converged = true
	rc.Round = 1
	if def.Loop != nil {
		em.Emit(EventRoundBoundary, map[string]any{"round": rc.Round})
	}

	next := 0 // phase result index, monotonic across rounds
	for i := 0; i < len(def.Phases); i++ {
		if err := ctx.Err(); err != nil {
			return results, converged, err
		}

		result, err := c.exec.RunPhase(ctx, next, &def.Phases[i], rc, em, cost)
		switch {
		case errors.Is(err, errPhaseSkipped):
			// gate closed, no result recorded
		case err != nil:
			return results, converged, err
		default:
			results = append(results, *result)
			next++
		}

		if def.Loop == nil || i != def.Loop.EndPhase {
			continue
		}

		// Round check: loop back unless the predicate holds or the cap is
		// spent.
		stop := def.Loop.Stop != nil && def.Loop.Stop(rc)
		if !stop && rc.Round >= rc.MaxRounds {
			stop = true
			if def.Loop.Stop != nil {
				converged = false
			}
		}
		if !stop {
			rc.Round++
			em.Emit(EventRoundBoundary, map[string]any{"round": rc.Round})
			i = def.Loop.StartPhase - 1
		}
	}
	return results, converged, nil
}
