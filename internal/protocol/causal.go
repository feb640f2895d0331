package protocol

import (
	"fmt"
	"strings"

	"conclave/internal/aggregate"
	"conclave/internal/parse"
	"conclave/internal/roster"
)

// maxLoopLen bounds cycle search; causal maps with longer loops are noise.
const maxLoopLen = 8

// CausalMap is the merged causal graph with its classified feedback loops.
type CausalMap struct {
	Edges []aggregate.CausalEdge `json:"edges"`
	Loops []aggregate.Loop       `json:"loops"`
}

// newCausalLoop extracts a causal map: workers propose polarity-labelled
// edges, duplicates are merged by majority polarity, and elementary cycles
// are classified reinforcing or balancing by negative-edge parity.
func newCausalLoop() *Definition {
	return &Definition{
		ID:           "causal-loop",
		Name:         "Causal Loop Mapping",
		Category:     "systems",
		ProblemTypes: []string{"system_dynamics", "root_cause"},
		CostTier:     "medium",
		MinWorkers:   2,
		MaxWorkers:   6,
		Description:  "Collective causal-map extraction with feedback loop detection and reinforcing/balancing classification.",
		Phases: []PhaseSpec{
			{
				Name:   "edges",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("Model the system behind the question below as causal links. List 5 to 12 directed edges between short variable names, each labelled \"+\" (same direction) or \"-\" (opposite direction). Reuse variable names across edges so feedback loops can form. Respond with JSON only: {\"edges\": [{\"from\": \"...\", \"to\": \"...\", \"polarity\": \"+\"}]}.\n\nQuestion: %s", rc.Question)
				},
				Parse: func(workerKey, text string) (any, error) {
					var payload struct {
						Edges []aggregate.CausalEdge `json:"edges"`
					}
					if err := parse.Object(text, &payload); err != nil {
						return nil, err
					}
					if len(payload.Edges) == 0 {
						return nil, fmt.Errorf("no edges proposed")
					}
					for i := range payload.Edges {
						payload.Edges[i].Worker = workerKey
					}
					return payload.Edges, nil
				},
			},
			{
				Name: "loop_analysis",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					var all []aggregate.CausalEdge
					for _, proposed := range Collect[[]aggregate.CausalEdge](rc.History.Phase("edges")) {
						all = append(all, proposed...)
					}
					if len(all) == 0 {
						return nil, aggregate.ErrInsufficientQuorum
					}
					merged := aggregate.MergeEdges(all)
					return &CausalMap{
						Edges: merged,
						Loops: aggregate.FindLoops(merged, maxLoopLen),
					}, nil
				},
			},
			{
				Name:   "leverage",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					cm, _ := ArtifactAs[*CausalMap](rc.History, "loop_analysis")
					return fmt.Sprintf("A panel mapped the system behind the question below into the causal graph that follows. Identify the leverage points: which loops dominate the behavior, which reinforcing loops need dampening, which balancing loops can be strengthened, and where a small intervention would matter most.\n\nQuestion: %s\n\n%s",
						rc.Question, renderCausalMap(cm))
				},
			},
		},
	}
}

func renderCausalMap(cm *CausalMap) string {
	if cm == nil {
		return "(empty causal map)"
	}
	var b strings.Builder
	b.WriteString("Edges:\n")
	for _, e := range cm.Edges {
		fmt.Fprintf(&b, "  %s -(%s)-> %s\n", e.From, e.Polarity, e.To)
	}
	if len(cm.Loops) == 0 {
		b.WriteString("No feedback loops detected.\n")
		return b.String()
	}
	b.WriteString("Feedback loops:\n")
	for _, l := range cm.Loops {
		fmt.Fprintf(&b, "  %s (%s): %s\n", l.ID, l.Kind, strings.Join(l.Path, " -> "))
	}
	return b.String()
}
