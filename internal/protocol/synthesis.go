package protocol

import (
	"fmt"

	"conclave/internal/roster"
)

// newParallelSynthesis is the simplest shape: every worker answers
// independently, the lead merges.
func newParallelSynthesis() *Definition {
	return &Definition{
		ID:           "parallel-synthesis",
		Name:         "Parallel Synthesis",
		Category:     "aggregation",
		ProblemTypes: []string{"open_question", "brainstorm"},
		CostTier:     "low",
		MinWorkers:   2,
		MaxWorkers:   8,
		Description:  "Independent parallel answers merged into one synthesis by the lead worker.",
		Phases: []PhaseSpec{
			{
				Name:   "answers",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("Answer the following question from your own perspective. Be concrete and take a position.\n\nQuestion: %s", rc.Question)
				},
			},
			{
				Name:   "synthesis",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("Several analysts answered the question below independently. Synthesize their answers into one response: merge agreements, surface genuine disagreements, and state the strongest combined answer.\n\nQuestion: %s\n\nAnswers:\n%s",
						rc.Question, Transcript(rc.History.Phase("answers")))
				},
			},
		},
	}
}
