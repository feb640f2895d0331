package protocol

import (
	"fmt"
	"sort"
	"strings"

	"conclave/internal/aggregate"
	"conclave/internal/parse"
	"conclave/internal/roster"
)

// ecocycleStages is the fixed label set items are voted into.
var ecocycleStages = []string{"birth", "maturity", "creative_destruction", "renewal"}

// newEcocycle inventories the activities behind a question, places each on
// the ecocycle by strict-majority vote, and branches into a contested
// resolution step only when some items lack a majority.
func newEcocycle() *Definition {
	return &Definition{
		ID:           "ecocycle",
		Name:         "Ecocycle Planning",
		Category:     "systems",
		ProblemTypes: []string{"portfolio_review", "prioritization"},
		CostTier:     "medium",
		MinWorkers:   3,
		MaxWorkers:   9,
		Description:  "Majority-vote placement of activities onto the ecocycle stages, with contested items resolved explicitly.",
		Phases: []PhaseSpec{
			{
				Name:   "inventory",
				Kind:   LLMAggregate,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("List the 4 to 10 distinct activities, initiatives or components implied by the question below, each as a short noun phrase. Respond with JSON only: {\"items\": [\"...\"]}.\n\nQuestion: %s", rc.Question)
				},
				Parse: func(workerKey, text string) (any, error) {
					items, err := parse.StringList(text, "items")
					if err != nil {
						return nil, err
					}
					if len(items) == 0 {
						return nil, fmt.Errorf("empty inventory")
					}
					return items, nil
				},
			},
			{
				Name:   "stage_votes",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					items, _ := ArtifactAs[[]string](rc.History, "inventory")
					return fmt.Sprintf("Place each item below on the ecocycle. Stages: birth (new, growing), maturity (stable, productive), creative_destruction (declining, should be wound down), renewal (being reinvented). Use the exact item and stage names. Respond with JSON only: {\"votes\": [{\"item\": \"...\", \"stage\": \"...\"}]}.\n\nQuestion: %s\n\nItems:\n- %s",
						rc.Question, strings.Join(items, "\n- "))
				},
				Parse: func(workerKey, text string) (any, error) {
					var payload struct {
						Votes []struct {
							Item  string `json:"item"`
							Stage string `json:"stage"`
						} `json:"votes"`
					}
					if err := parse.Object(text, &payload); err != nil {
						return nil, err
					}
					votes := make([]aggregate.StageVote, 0, len(payload.Votes))
					for _, v := range payload.Votes {
						if !validStage(v.Stage) {
							continue
						}
						votes = append(votes, aggregate.StageVote{Worker: workerKey, Item: v.Item, Label: v.Stage})
					}
					if len(votes) == 0 {
						return nil, fmt.Errorf("no usable stage votes")
					}
					return votes, nil
				},
			},
			{
				Name: "assign",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					items, ok := ArtifactAs[[]string](rc.History, "inventory")
					if !ok {
						return nil, fmt.Errorf("no inventory")
					}
					var votes []aggregate.StageVote
					for _, vs := range Collect[[]aggregate.StageVote](rc.History.Phase("stage_votes")) {
						votes = append(votes, vs...)
					}
					return aggregate.MajorityVote(items, votes)
				},
			},
			{
				Name:   "resolve_contested",
				Kind:   LLMAggregate,
				Policy: Strict,
				When: func(rc *RunContext) bool {
					out, ok := ArtifactAs[*aggregate.VoteOutcome](rc.History, "assign")
					return ok && len(out.Contested) > 0
				},
				Prompt: func(rc *RunContext, w roster.Worker) string {
					out, _ := ArtifactAs[*aggregate.VoteOutcome](rc.History, "assign")
					return fmt.Sprintf("The panel split on where these items sit on the ecocycle. For each contested item, the vote counts per stage follow. Make the call: pick one stage per item and say in one clause why. Respond with JSON only: {\"placements\": [{\"item\": \"...\", \"stage\": \"...\", \"why\": \"...\"}]}.\n\nQuestion: %s\n\n%s",
						rc.Question, renderContested(out))
				},
				Parse: func(workerKey, text string) (any, error) {
					var payload struct {
						Placements []struct {
							Item  string `json:"item"`
							Stage string `json:"stage"`
							Why   string `json:"why"`
						} `json:"placements"`
					}
					if err := parse.Object(text, &payload); err != nil {
						return nil, err
					}
					placements := make(map[string]string, len(payload.Placements))
					for _, p := range payload.Placements {
						if validStage(p.Stage) {
							placements[p.Item] = p.Stage
						}
					}
					if len(placements) == 0 {
						return nil, fmt.Errorf("no usable placements")
					}
					return placements, nil
				},
			},
			{
				Name:   "action_plan",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					out, _ := ArtifactAs[*aggregate.VoteOutcome](rc.History, "assign")
					resolved, _ := ArtifactAs[map[string]string](rc.History, "resolve_contested")
					return fmt.Sprintf("A panel placed each activity below on the ecocycle. Write the action plan: what to grow (birth), protect (maturity), wind down (creative_destruction), and reinvent (renewal), flagging items whose placement was contested.\n\nQuestion: %s\n\nPlacements:\n%s",
						rc.Question, renderPlacements(out, resolved))
				},
			},
		},
	}
}

func validStage(s string) bool {
	for _, st := range ecocycleStages {
		if s == st {
			return true
		}
	}
	return false
}

func renderContested(out *aggregate.VoteOutcome) string {
	if out == nil {
		return ""
	}
	var b strings.Builder
	for _, item := range out.Contested {
		fmt.Fprintf(&b, "%s: ", item)
		labels := make([]string, 0, len(out.Counts[item]))
		for label := range out.Counts[item] {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		parts := make([]string, 0, len(labels))
		for _, label := range labels {
			parts = append(parts, fmt.Sprintf("%s=%d", label, out.Counts[item][label]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func renderPlacements(out *aggregate.VoteOutcome, resolved map[string]string) string {
	if out == nil {
		return "(no placements)"
	}
	items := make([]string, 0, len(out.Assigned)+len(out.Contested))
	for item := range out.Assigned {
		items = append(items, item)
	}
	sort.Strings(items)

	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s: %s\n", item, out.Assigned[item])
	}
	for _, item := range out.Contested {
		if stage, ok := resolved[item]; ok {
			fmt.Fprintf(&b, "- %s: %s (contested, resolved by the lead)\n", item, stage)
		} else {
			fmt.Fprintf(&b, "- %s: contested, unresolved\n", item)
		}
	}
	return b.String()
}
