package aggregate

import "sort"

type Verdict string

const (
	VerdictConsistent   Verdict = "C"
	VerdictInconsistent Verdict = "I"
	VerdictNeutral      Verdict = "N"
)

// EvidenceCell is one worker's verdict on whether a piece of evidence is
// consistent with a hypothesis.
type EvidenceCell struct {
	EvidenceID   string  `json:"evidence_id"`
	HypothesisID string  `json:"hypothesis_id"`
	Verdict      Verdict `json:"verdict"`
	Worker       string  `json:"worker,omitempty"`
}

// Elimination is the outcome of one hypothesis-elimination round. A
// hypothesis is scored by its inconsistency count, never by confirmations.
// When the highest count is shared, nothing is eliminated and Tied carries
// the flagged survivors.
type Elimination struct {
	Inconsistencies map[string]int `json:"inconsistencies"`
	Eliminated      string         `json:"eliminated,omitempty"`
	Survivors       []string       `json:"survivors"`
	Tied            []string       `json:"tied,omitempty"`
}

// EliminateOnce aggregates cell verdicts (majority per evidence-hypothesis
// pair, split votes fall back to Neutral) and removes the hypothesis with
// the strictly highest inconsistency count.
func EliminateOnce(hypotheses []string, cells []EvidenceCell) (*Elimination, error) {
	if len(hypotheses) == 0 {
		return nil, ErrInsufficientQuorum
	}

	type pair struct{ e, h string }
	votes := make(map[pair]map[Verdict]int)
	for _, c := range cells {
		key := pair{c.EvidenceID, c.HypothesisID}
		if votes[key] == nil {
			votes[key] = make(map[Verdict]int)
		}
		votes[key][c.Verdict]++
	}

	counts := make(map[string]int, len(hypotheses))
	for _, h := range hypotheses {
		counts[h] = 0
	}
	for key, tallies := range votes {
		if _, ok := counts[key.h]; !ok {
			continue // verdict for an unknown hypothesis
		}
		if majorityVerdict(tallies) == VerdictInconsistent {
			counts[key.h]++
		}
	}

	result := &Elimination{Inconsistencies: counts}
	if len(hypotheses) == 1 {
		result.Survivors = append([]string(nil), hypotheses...)
		return result, nil
	}

	max := counts[hypotheses[0]]
	for _, h := range hypotheses[1:] {
		if counts[h] > max {
			max = counts[h]
		}
	}
	var atMax []string
	for _, h := range hypotheses {
		if counts[h] == max {
			atMax = append(atMax, h)
		}
	}

	if len(atMax) > 1 {
		// Tie at the top: eliminate none, flag the tied set.
		result.Survivors = append([]string(nil), hypotheses...)
		result.Tied = atMax
		return result, nil
	}

	result.Eliminated = atMax[0]
	for _, h := range hypotheses {
		if h != result.Eliminated {
			result.Survivors = append(result.Survivors, h)
		}
	}
	return result, nil
}

// majorityVerdict picks the verdict with the most votes; a split vote is
// treated as Neutral rather than guessing between workers.
func majorityVerdict(tallies map[Verdict]int) Verdict {
	type vc struct {
		v Verdict
		n int
	}
	ranked := make([]vc, 0, len(tallies))
	for v, n := range tallies {
		ranked = append(ranked, vc{v, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].v < ranked[j].v
	})
	if len(ranked) == 0 {
		return VerdictNeutral
	}
	if len(ranked) > 1 && ranked[0].n == ranked[1].n {
		return VerdictNeutral
	}
	return ranked[0].v
}
