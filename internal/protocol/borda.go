package protocol

import (
	"fmt"
	"strings"

	"conclave/internal/aggregate"
	"conclave/internal/parse"
	"conclave/internal/roster"
)

// newBorda frames a closed option set, collects full rankings from every
// worker, and tallies them with positional scoring plus pairwise tie-break.
func newBorda() *Definition {
	return &Definition{
		ID:           "borda",
		Name:         "Ranked-Choice Vote",
		Category:     "voting",
		ProblemTypes: []string{"option_selection", "prioritization"},
		CostTier:     "medium",
		MinWorkers:   3,
		MaxWorkers:   9,
		Description:  "Positional ranked-choice vote over a framed option set, with pairwise tie-break and explicit unresolved ties.",
		Phases: []PhaseSpec{
			{
				Name:   "frame_options",
				Kind:   LLMAggregate,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("Frame the question below as a vote. List between 3 and 6 mutually exclusive options that together cover the plausible answers. Respond with JSON only: {\"options\": [\"...\"]}.\n\nQuestion: %s", rc.Question)
				},
				Parse: func(workerKey, text string) (any, error) {
					opts, err := parse.StringList(text, "options")
					if err != nil {
						return nil, err
					}
					if len(opts) < 2 {
						return nil, fmt.Errorf("need at least 2 options, got %d", len(opts))
					}
					return opts, nil
				},
			},
			{
				Name:   "ballots",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					opts, _ := ArtifactAs[[]string](rc.History, "frame_options")
					return fmt.Sprintf("Rank ALL of the following options from best to worst for the question. Respond with JSON only: {\"ranking\": [\"...\"]} using the exact option text.\n\nQuestion: %s\n\nOptions:\n- %s",
						rc.Question, strings.Join(opts, "\n- "))
				},
				Parse: func(workerKey, text string) (any, error) {
					ranking, err := parse.StringList(text, "ranking")
					if err != nil {
						return nil, err
					}
					return aggregate.Ballot{Worker: workerKey, Ranking: ranking}, nil
				},
			},
			{
				Name: "tally",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					opts, ok := ArtifactAs[[]string](rc.History, "frame_options")
					if !ok {
						return nil, fmt.Errorf("no option set framed")
					}
					ballots := Collect[aggregate.Ballot](rc.History.Phase("ballots"))
					return aggregate.RankedChoice(opts, ballots)
				},
			},
			{
				Name:   "report",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					tally, _ := ArtifactAs[*aggregate.Tally](rc.History, "tally")
					verdict := "The vote is unresolved: the leading options are exactly tied."
					if tally != nil && tally.Winner != "" {
						verdict = fmt.Sprintf("Winner: %s (margin %d points).", tally.Winner, tally.Margin)
					}
					return fmt.Sprintf("A panel voted on the question below by full ranking. %s\nScores: %v\n\nWrite a short report: the outcome, how close it was, and what the ranking pattern suggests about the panel's reasoning.\n\nQuestion: %s",
						verdict, tallyScores(tally), rc.Question)
				},
			},
		},
	}
}

func tallyScores(t *aggregate.Tally) map[string]int {
	if t == nil {
		return nil
	}
	return t.Scores
}
