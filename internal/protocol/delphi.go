package protocol

import (
	"fmt"

	"conclave/internal/aggregate"
	"conclave/internal/parse"
	"conclave/internal/roster"
)

// delphiFloor is the absolute IQR floor used when the panel's median is
// zero, where the ratio test is undefined.
const delphiFloor = 1.0

// newDelphi runs anonymous iterative estimation: each round every worker
// estimates, sees the panel statistics (never attributed positions), and
// re-estimates until the spread converges or the round cap runs out.
func newDelphi() *Definition {
	return &Definition{
		ID:             "delphi",
		Name:           "Delphi Estimation",
		Category:       "estimation",
		ProblemTypes:   []string{"numeric_estimate", "forecast"},
		CostTier:       "medium",
		MinWorkers:     3,
		MaxWorkers:     9,
		SupportsRounds: true,
		Description:    "Iterative anonymous estimation converging when the interquartile range falls below 15% of the median.",
		Loop: &LoopPolicy{
			StartPhase: 0,
			EndPhase:   1,
			Stop: func(rc *RunContext) bool {
				stats, ok := ArtifactAs[*aggregate.Stats](rc.History, "stats")
				return ok && stats.Converged
			},
		},
		Phases: []PhaseSpec{
			{
				Name:   "estimate",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					feedback := ""
					if stats, ok := ArtifactAs[*aggregate.Stats](rc.History, "stats"); ok {
						feedback = fmt.Sprintf("\n\nPrevious round statistics (n=%d): median %.4g, interquartile range %.4g (Q1 %.4g, Q3 %.4g). Reconsider your estimate in light of the panel; adjust only where the spread suggests you missed something.",
							stats.N, stats.Median, stats.IQR, stats.Q1, stats.Q3)
					}
					return fmt.Sprintf("Round %d of %d of an anonymous estimation panel. Give your best numeric estimate for the question, plus a plausible low and high. Respond with JSON only: {\"value\": 0, \"low\": 0, \"high\": 0, \"reasoning\": \"...\"}.\n\nQuestion: %s%s",
						rc.Round, rc.MaxRounds, rc.Question, feedback)
				},
				Parse: func(workerKey, text string) (any, error) {
					var est aggregate.Estimate
					if err := parse.Object(text, &est); err != nil {
						return nil, err
					}
					est.Worker = workerKey
					return est, nil
				},
			},
			{
				Name: "stats",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					estimates := Collect[aggregate.Estimate](rc.History.LastRound("estimate"))
					return aggregate.Convergence(estimates, delphiFloor)
				},
			},
			{
				Name:   "synthesis",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					stats, _ := ArtifactAs[*aggregate.Stats](rc.History, "stats")
					state := "The panel did not converge within the round cap; report the final spread honestly."
					if stats != nil && stats.Converged {
						state = "The panel converged."
					}
					summary := ""
					if stats != nil {
						summary = fmt.Sprintf("Final statistics after %d round(s): median %.4g, IQR %.4g over %d estimates.", rc.Round, stats.Median, stats.IQR, stats.N)
					}
					return fmt.Sprintf("An anonymous panel iteratively estimated an answer to the question below. %s %s\n\nEstimates with reasoning:\n%s\n\nWrite the final answer: the panel's estimate, its uncertainty, and the main drivers of disagreement.\n\nQuestion: %s",
						state, summary, Transcript(rc.History.LastRound("estimate")), rc.Question)
				},
			},
		},
	}
}
