package aggregate

import "sort"

// Ballot is one worker's full ranking of the options, best first.
type Ballot struct {
	Worker  string   `json:"worker"`
	Ranking []string `json:"ranking"`
}

// Tally is the outcome of a ranked-choice vote. When the top score is tied
// and pairwise comparison cannot separate the leaders, Winner is empty and
// Unresolved lists the symmetric group; callers must not pick one themselves.
type Tally struct {
	Scores     map[string]int `json:"scores"`
	Ranking    []string       `json:"ranking"`
	Winner     string         `json:"winner"`
	Margin     int            `json:"margin"`
	TieBroken  bool           `json:"tie_broken"`
	Unresolved []string       `json:"unresolved,omitempty"`
}

// RankedChoice scores N ballots over K options: rank r (0-indexed from best)
// earns K-1-r points. Score ties are broken by pairwise majority restricted
// to the tied subset; a fully symmetric tie at the top is reported, not
// guessed. Options a ballot omits earn nothing from it.
func RankedChoice(options []string, ballots []Ballot) (*Tally, error) {
	if len(options) == 0 || len(ballots) == 0 {
		return nil, ErrInsufficientQuorum
	}

	k := len(options)
	known := make(map[string]bool, k)
	for _, o := range options {
		known[o] = true
	}

	scores := make(map[string]int, k)
	for _, o := range options {
		scores[o] = 0
	}
	for _, b := range ballots {
		for r, opt := range b.Ranking {
			if r >= k {
				break
			}
			if known[opt] {
				scores[opt] += k - 1 - r
			}
		}
	}

	// Group options by score, high to low, keeping submission order inside
	// each group so the result is deterministic.
	byScore := make(map[int][]string)
	for _, o := range options {
		byScore[scores[o]] = append(byScore[scores[o]], o)
	}
	distinct := make([]int, 0, len(byScore))
	for s := range byScore {
		distinct = append(distinct, s)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(distinct)))

	tally := &Tally{Scores: scores}
	for gi, s := range distinct {
		group := byScore[s]
		if len(group) == 1 {
			tally.Ranking = append(tally.Ranking, group[0])
			continue
		}

		ordered, symmetric := breakTie(group, ballots)
		if symmetric && gi == 0 {
			// Top group is fully symmetric: no winner can be named.
			tally.Unresolved = append([]string(nil), group...)
		} else if !symmetric {
			tally.TieBroken = true
		}
		tally.Ranking = append(tally.Ranking, ordered...)
	}

	if len(tally.Unresolved) == 0 {
		tally.Winner = tally.Ranking[0]
		if len(tally.Ranking) >= 2 {
			tally.Margin = scores[tally.Ranking[0]] - scores[tally.Ranking[1]]
		}
	}
	return tally, nil
}

// breakTie orders a tied group by pairwise head-to-head wins across all
// ballots. It reports symmetric=true when every member has the same win
// count, in which case the group comes back in its original order.
func breakTie(group []string, ballots []Ballot) (ordered []string, symmetric bool) {
	wins := make(map[string]int, len(group))
	for i, a := range group {
		for _, b := range group[i+1:] {
			aWins, bWins := 0, 0
			for _, ballot := range ballots {
				ra, rb := rankOf(ballot, a), rankOf(ballot, b)
				switch {
				case ra < rb:
					aWins++
				case rb < ra:
					bWins++
				}
			}
			switch {
			case aWins > bWins:
				wins[a]++
			case bWins > aWins:
				wins[b]++
			}
		}
	}

	symmetric = true
	for _, o := range group {
		if wins[o] != wins[group[0]] {
			symmetric = false
			break
		}
	}

	ordered = append([]string(nil), group...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return wins[ordered[i]] > wins[ordered[j]]
	})
	return ordered, symmetric
}

// rankOf returns the position an option holds on a ballot, or a sentinel
// past the end when the ballot omits it.
func rankOf(b Ballot, option string) int {
	for i, o := range b.Ranking {
		if o == option {
			return i
		}
	}
	return len(b.Ranking) + 1
}
