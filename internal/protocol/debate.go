package protocol

import (
	"fmt"

	"conclave/internal/roster"
)

// newDebate runs opening statements, a fixed number of rebuttal rounds, and
// final positions, then a synthesis. The rebuttal loop has no convergence
// predicate: finishing the round cap is the normal outcome.
func newDebate() *Definition {
	return &Definition{
		ID:             "debate",
		Name:           "Structured Debate",
		Category:       "deliberation",
		ProblemTypes:   []string{"contested_claim", "decision"},
		CostTier:       "high",
		MinWorkers:     2,
		MaxWorkers:     6,
		SupportsRounds: true,
		Description:    "Opening statements, capped rebuttal rounds, final positions, moderated verdict.",
		Loop:           &LoopPolicy{StartPhase: 1, EndPhase: 1},
		Phases: []PhaseSpec{
			{
				Name:   "opening",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("You are one voice in a structured debate. Give your opening statement on the question below: your position, your two strongest arguments, and what evidence would change your mind.\n\nQuestion: %s", rc.Question)
				},
			},
			{
				Name:   "rebuttal",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					// Only the most recent round: the prompt promises the
					// latest statements, not the whole record.
					prior := Transcript(rc.History.Phase("opening"))
					if rebuttals := rc.History.LastRound("rebuttal"); len(rebuttals) > 0 {
						prior = Transcript(rebuttals)
					}
					return fmt.Sprintf("Debate round %d of %d. Below are the other participants' latest statements. Rebut the strongest argument against your position, concede anything you now find convincing, and restate your position.\n\nQuestion: %s\n\nStatements:\n%s",
						rc.Round, rc.MaxRounds, rc.Question, prior)
				},
			},
			{
				Name:   "final",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("The debate is closing. Give your final position on the question in at most three sentences, noting any point where the debate moved you.\n\nQuestion: %s\n\nLast rebuttals:\n%s",
						rc.Question, Transcript(rc.History.LastRound("rebuttal")))
				},
			},
			{
				Name:   "synthesis",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("You moderated a structured debate on the question below. Using the full record, write the verdict: where the debaters converged, where they still disagree and why, and the most defensible overall answer.\n\nQuestion: %s\n\nFinal positions:\n%s",
						rc.Question, Transcript(rc.History.Phase("final")))
				},
			},
		},
	}
}
