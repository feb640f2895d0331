package protocol

import (
	"fmt"
	"strings"

	"conclave/internal/aggregate"
	"conclave/internal/parse"
	"conclave/internal/roster"
)

const (
	maxHypotheses = 7
	maxEvidence   = 10
)

// ItemSet is an ordered, id-keyed pool of short text items (hypotheses or
// evidence), assembled from multiple workers' proposals.
type ItemSet struct {
	IDs  []string          `json:"ids"`
	Text map[string]string `json:"text"`
}

// ACHResult records the elimination trace: every round's inconsistency
// counts plus the final survivors. Tied is non-empty when an all-tied round
// stopped the process early.
type ACHResult struct {
	Rounds    []aggregate.Elimination `json:"rounds"`
	Survivors []string                `json:"survivors"`
	Tied      []string                `json:"tied,omitempty"`
}

// newACH implements analysis of competing hypotheses: pooled hypotheses and
// evidence, a full consistency matrix from every worker, then iterative
// elimination of the most-contradicted hypothesis until one survives or the
// remainder tie.
func newACH() *Definition {
	return &Definition{
		ID:           "ach",
		Name:         "Competing Hypotheses",
		Category:     "analysis",
		ProblemTypes: []string{"diagnosis", "root_cause", "contested_claim"},
		CostTier:     "high",
		MinWorkers:   2,
		MaxWorkers:   6,
		Description:  "Evidence-matrix elimination over pooled hypotheses: the most-contradicted hypothesis falls each round.",
		Phases: []PhaseSpec{
			{
				Name:   "propose_hypotheses",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					return fmt.Sprintf("Propose 2 to 4 competing hypotheses that could answer the question below. Include at least one you consider unlikely but possible. Each hypothesis is one sentence. Respond with JSON only: {\"hypotheses\": [\"...\"]}.\n\nQuestion: %s", rc.Question)
				},
				Parse: func(workerKey, text string) (any, error) {
					return parse.StringList(text, "hypotheses")
				},
			},
			{
				Name: "hypothesis_pool",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					set := pool("H", maxHypotheses, Collect[[]string](rc.History.Phase("propose_hypotheses")))
					if len(set.IDs) < 2 {
						return nil, aggregate.ErrInsufficientQuorum
					}
					return set, nil
				},
			},
			{
				Name:   "propose_evidence",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					hyps, _ := ArtifactAs[*ItemSet](rc.History, "hypothesis_pool")
					return fmt.Sprintf("The hypotheses under analysis are listed below. Name 2 to 4 pieces of evidence, observations or known facts that bear on them. Evidence must be checkable statements, not opinions. Respond with JSON only: {\"evidence\": [\"...\"]}.\n\nQuestion: %s\n\n%s",
						rc.Question, renderItems(hyps))
				},
				Parse: func(workerKey, text string) (any, error) {
					return parse.StringList(text, "evidence")
				},
			},
			{
				Name: "evidence_pool",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					set := pool("E", maxEvidence, Collect[[]string](rc.History.Phase("propose_evidence")))
					if len(set.IDs) == 0 {
						return nil, aggregate.ErrInsufficientQuorum
					}
					return set, nil
				},
			},
			{
				Name:   "matrix",
				Kind:   FanOutGenerate,
				Policy: BestEffort,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					hyps, _ := ArtifactAs[*ItemSet](rc.History, "hypothesis_pool")
					evid, _ := ArtifactAs[*ItemSet](rc.History, "evidence_pool")
					return fmt.Sprintf("Fill in the consistency matrix. For EVERY evidence/hypothesis pair, give a verdict: \"C\" (consistent), \"I\" (inconsistent) or \"N\" (neutral). Judge only whether the evidence contradicts the hypothesis; confirmation counts for nothing here. Respond with JSON only: {\"cells\": [{\"evidence_id\": \"E1\", \"hypothesis_id\": \"H1\", \"verdict\": \"C\"}]}.\n\nQuestion: %s\n\nHypotheses:\n%s\nEvidence:\n%s",
						rc.Question, renderItems(hyps), renderItems(evid))
				},
				Parse: func(workerKey, text string) (any, error) {
					var payload struct {
						Cells []aggregate.EvidenceCell `json:"cells"`
					}
					if err := parse.Object(text, &payload); err != nil {
						return nil, err
					}
					cells := make([]aggregate.EvidenceCell, 0, len(payload.Cells))
					for _, c := range payload.Cells {
						v, ok := normalizeVerdict(c.Verdict)
						if !ok {
							continue
						}
						c.Verdict = v
						c.Worker = workerKey
						cells = append(cells, c)
					}
					if len(cells) == 0 {
						return nil, fmt.Errorf("no usable matrix cells")
					}
					return cells, nil
				},
			},
			{
				Name: "elimination",
				Kind: DeterministicAggregate,
				Aggregate: func(rc *RunContext) (any, error) {
					hyps, ok := ArtifactAs[*ItemSet](rc.History, "hypothesis_pool")
					if !ok {
						return nil, fmt.Errorf("no hypothesis pool")
					}
					var cells []aggregate.EvidenceCell
					for _, cs := range Collect[[]aggregate.EvidenceCell](rc.History.Phase("matrix")) {
						cells = append(cells, cs...)
					}
					return eliminate(hyps.IDs, cells)
				},
			},
			{
				Name:   "synthesis",
				Kind:   FanInSynthesize,
				Policy: Strict,
				Prompt: func(rc *RunContext, w roster.Worker) string {
					hyps, _ := ArtifactAs[*ItemSet](rc.History, "hypothesis_pool")
					result, _ := ArtifactAs[*ACHResult](rc.History, "elimination")
					return fmt.Sprintf("An elimination analysis over competing hypotheses finished. %s\n\nHypotheses:\n%s\nWrite the conclusion: which hypothesis best survives the evidence, how decisively, and what single piece of new evidence would most change the picture.\n\nQuestion: %s",
						renderElimination(result), renderItems(hyps), rc.Question)
				},
			},
		},
	}
}

// eliminate repeatedly removes the most-contradicted hypothesis. It stops
// at a single survivor or at an all-tied round, keeping every round's
// counts for the record.
func eliminate(hypotheses []string, cells []aggregate.EvidenceCell) (*ACHResult, error) {
	result := &ACHResult{}
	remaining := append([]string(nil), hypotheses...)
	for len(remaining) > 1 {
		round, err := aggregate.EliminateOnce(remaining, cells)
		if err != nil {
			return nil, err
		}
		result.Rounds = append(result.Rounds, *round)
		if round.Eliminated == "" {
			result.Tied = round.Tied
			break
		}
		remaining = round.Survivors
	}
	result.Survivors = remaining
	return result, nil
}

// pool merges multiple workers' proposals into an id-keyed set, deduplicated
// case-insensitively, preserving first-seen order up to max items.
func pool(prefix string, max int, proposals [][]string) *ItemSet {
	set := &ItemSet{Text: make(map[string]string)}
	seen := make(map[string]bool)
	for _, items := range proposals {
		for _, item := range items {
			item = strings.TrimSpace(item)
			norm := strings.ToLower(item)
			if item == "" || seen[norm] || len(set.IDs) >= max {
				continue
			}
			seen[norm] = true
			id := fmt.Sprintf("%s%d", prefix, len(set.IDs)+1)
			set.IDs = append(set.IDs, id)
			set.Text[id] = item
		}
	}
	return set
}

func normalizeVerdict(v aggregate.Verdict) (aggregate.Verdict, bool) {
	switch strings.ToUpper(strings.TrimSpace(string(v))) {
	case "C", "CONSISTENT":
		return aggregate.VerdictConsistent, true
	case "I", "INCONSISTENT":
		return aggregate.VerdictInconsistent, true
	case "N", "NEUTRAL":
		return aggregate.VerdictNeutral, true
	}
	return "", false
}

func renderItems(set *ItemSet) string {
	if set == nil {
		return "(none)\n"
	}
	var b strings.Builder
	for _, id := range set.IDs {
		fmt.Fprintf(&b, "%s: %s\n", id, set.Text[id])
	}
	return b.String()
}

func renderElimination(r *ACHResult) string {
	if r == nil {
		return "No elimination result is available."
	}
	var b strings.Builder
	for i, round := range r.Rounds {
		if round.Eliminated != "" {
			fmt.Fprintf(&b, "Round %d eliminated %s (inconsistencies: %v). ", i+1, round.Eliminated, round.Inconsistencies)
		}
	}
	if len(r.Tied) > 0 {
		fmt.Fprintf(&b, "Elimination stopped early: %s are tied on inconsistency count. Survivors: %s.",
			strings.Join(r.Tied, ", "), strings.Join(r.Survivors, ", "))
	} else {
		fmt.Fprintf(&b, "Surviving hypothesis: %s.", strings.Join(r.Survivors, ", "))
	}
	return b.String()
}
