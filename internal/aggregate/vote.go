package aggregate

// StageVote assigns one item to one categorical label, from one worker.
type StageVote struct {
	Worker string `json:"worker"`
	Item   string `json:"item"`
	Label  string `json:"label"`
}

// VoteOutcome maps items to their strict-majority label. Items without a
// strict majority are listed as Contested rather than resolved silently.
type VoteOutcome struct {
	Assigned  map[string]string         `json:"assigned"`
	Contested []string                  `json:"contested,omitempty"`
	Counts    map[string]map[string]int `json:"counts"`
}

// MajorityVote tallies per-item label votes. A label wins an item only with
// a strict majority of that item's votes; anything less is contested.
func MajorityVote(items []string, votes []StageVote) (*VoteOutcome, error) {
	if len(items) == 0 || len(votes) == 0 {
		return nil, ErrInsufficientQuorum
	}

	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it] = true
	}

	counts := make(map[string]map[string]int, len(items))
	totals := make(map[string]int, len(items))
	for _, v := range votes {
		if !known[v.Item] || v.Label == "" {
			continue
		}
		if counts[v.Item] == nil {
			counts[v.Item] = make(map[string]int)
		}
		counts[v.Item][v.Label]++
		totals[v.Item]++
	}

	out := &VoteOutcome{Assigned: make(map[string]string), Counts: counts}
	for _, item := range items {
		winner := ""
		for label, n := range counts[item] {
			if n*2 > totals[item] {
				winner = label
				break
			}
		}
		if winner == "" {
			out.Contested = append(out.Contested, item)
		} else {
			out.Assigned[item] = winner
		}
	}
	return out, nil
}
