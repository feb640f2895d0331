package protocol

import (
	"fmt"
	"strings"

	"conclave/internal/aggregate"
	"conclave/internal/parse"
	"conclave/internal/roster"
)

// newVickrey runs a sealed-bid second-price auction over a framed option
// set: each worker bids a choice with a confidence wager, the winner
// justifies the choice at the calibrated (second-highest) confidence.
func newVickrey() *Definition {
	return &Definition{
		ID:           "vickrey",
		Name:         "Sealed-Bid Confidence Auction",
		Category:     "voting",
		ProblemTypes: []string{"option_selection", "forecast"},
		CostTier:     "medium",
		MinWorkers:   2,
		MaxWorkers:   8,
		Description:  "Sealed confidence bids on a framed option set; the winning view is reported at the second-highest confidence.",
		Phases: []PhaseSpec{
			{
				Name:   "frame_options",
				Kind:   LLMAggregate,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("Frame the question below as a choice among 2 to 5 mutually exclusive options. Respond with JSON only: {\"options\": [\"...\"]}.\n\nQuestion: %s", rc.Question)
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
				Name:   "bids",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					opts, _ := ArtifactAs[[]string](rc.History, "frame_options")
					return fmt.Sprintf("This is a sealed-bid auction: you cannot see the other bids. Pick ONE option and wager a confidence from 0 to 100 on being right. Overbidding is punished: if you win, your answer is reported at the second-highest confidence, not your own. Respond with JSON only: {\"choice\": \"...\", \"confidence\": 0}.\n\nQuestion: %s\n\nOptions:\n- %s",
						rc.Question, strings.Join(opts, "\n- "))
				},
				Parse: func(workerKey, text string) (any, error) {
					var bid aggregate.SealedBid
					if err := parse.Object(text, &bid); err != nil {
						return nil, err
					}
					if bid.Choice == "" {
						return nil, fmt.Errorf("bid without a choice")
					}
					if bid.Confidence < 0 || bid.Confidence > 100 {
						return nil, fmt.Errorf("confidence %d out of range", bid.Confidence)
					}
					bid.Worker = workerKey
					return bid, nil
				},
			},
			{
				Name: "second_price",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					bids := Collect[aggregate.SealedBid](rc.History.Phase("bids"))
					return aggregate.SecondPrice(bids)
				},
			},
			{
				Name:   "justify",
				Kind:   FanInSynthesize,
				Policy: Strict,
				// The auction winner argues its own choice; fall back to the
				// lead when the winner's output was lost.
				Select: func(rc *RunContext) roster.Roster {
					out, ok := ArtifactAs[*aggregate.AuctionOutcome](rc.History, "second_price")
					if ok {
						if w, found := rc.Workers.Get(out.Winner.Worker); found {
							return roster.Roster{w}
						}
					}
					return roster.Roster{rc.Workers.Lead()}
				},
				Prompt: func(rc *RunContext, w roster.Worker) string {
					out, _ := ArtifactAs[*aggregate.AuctionOutcome](rc.History, "second_price")
					calibration := "No calibration was possible: yours was the only bid."
					if out != nil && out.Calibrated {
						calibration = fmt.Sprintf("Your bid of %d was calibrated down to %d, the second-highest wager.", out.Winner.Confidence, out.CalibratedConfidence)
					}
					choice := ""
					if out != nil {
						choice = out.Winner.Choice
					}
					return fmt.Sprintf("Your sealed bid won the auction. %s Justify the winning choice at that calibrated confidence level: state the answer, the reasoning behind it, and what residual uncertainty the calibrated confidence reflects.\n\nQuestion: %s\nWinning choice: %s",
						calibration, rc.Question, choice)
				},
			},
		},
	}
}
