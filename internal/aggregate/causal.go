package aggregate

import (
	"fmt"
	"sort"
	"strings"
)

type Polarity string

const (
	PolarityPositive Polarity = "+"
	PolarityNegative Polarity = "-"
)

// CausalEdge is a directed, polarity-labelled influence between two
// variables of a causal map.
type CausalEdge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Polarity Polarity `json:"polarity"`
	Worker   string   `json:"worker,omitempty"`
}

type LoopKind string

const (
	LoopReinforcing LoopKind = "reinforcing"
	LoopBalancing   LoopKind = "balancing"
)

// Loop is an elementary cycle in the causal graph. Kind follows the parity
// of negative edges: even count reinforcing, odd count balancing.
type Loop struct {
	ID         string     `json:"id"`
	Path       []string   `json:"path"`
	Polarities []Polarity `json:"polarities"`
	Kind       LoopKind   `json:"kind"`
}

// MergeEdges collapses duplicate edges proposed by different workers into a
// single edge per (from, to) pair, taking the majority polarity. A split
// vote falls back to positive. Output order is deterministic.
func MergeEdges(edges []CausalEdge) []CausalEdge {
	type key struct{ from, to string }
	buckets := make(map[key][]Polarity)
	for _, e := range edges {
		if e.From == "" || e.To == "" {
			continue
		}
		p := e.Polarity
		if p != PolarityNegative {
			p = PolarityPositive
		}
		k := key{e.From, e.To}
		buckets[k] = append(buckets[k], p)
	}

	merged := make([]CausalEdge, 0, len(buckets))
	for k, pols := range buckets {
		neg := 0
		for _, p := range pols {
			if p == PolarityNegative {
				neg++
			}
		}
		polarity := PolarityPositive
		if neg*2 > len(pols) {
			polarity = PolarityNegative
		}
		merged = append(merged, CausalEdge{From: k.from, To: k.to, Polarity: polarity})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].From != merged[j].From {
			return merged[i].From < merged[j].From
		}
		return merged[i].To < merged[j].To
	})
	return merged
}

// FindLoops enumerates elementary cycles up to maxLen nodes via depth-first
// search. Each cycle is found exactly once, rotated to start at its
// lexicographically smallest node, so rotations never duplicate. Loops are
// numbered R1.., B1.. by kind in deterministic order.
func FindLoops(edges []CausalEdge, maxLen int) []Loop {
	if maxLen <= 0 {
		maxLen = 8
	}

	adj := make(map[string][]CausalEdge)
	nodeSet := make(map[string]bool)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e)
		nodeSet[e.From] = true
		nodeSet[e.To] = true
	}
	for _, out := range adj {
		sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	}
	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var loops []Loop
	var path []string
	var pols []Polarity
	visited := make(map[string]bool)

	var dfs func(start, current string)
	dfs = func(start, current string) {
		for _, e := range adj[current] {
			if e.To == start && len(path) >= 2 {
				loop := Loop{
					Path:       append([]string(nil), path...),
					Polarities: append(append([]Polarity(nil), pols...), e.Polarity),
				}
				if countNegative(loop.Polarities)%2 == 0 {
					loop.Kind = LoopReinforcing
				} else {
					loop.Kind = LoopBalancing
				}
				loops = append(loops, loop)
				continue
			}
			// Only descend into nodes greater than the start: the start is
			// the smallest node of any cycle it discovers.
			if e.To > start && !visited[e.To] && len(path) < maxLen {
				visited[e.To] = true
				path = append(path, e.To)
				pols = append(pols, e.Polarity)
				dfs(start, e.To)
				path = path[:len(path)-1]
				pols = pols[:len(pols)-1]
				visited[e.To] = false
			}
		}
	}

	for _, start := range nodes {
		visited[start] = true
		path = append(path[:0], start)
		pols = pols[:0]
		dfs(start, start)
		visited[start] = false
	}

	sort.Slice(loops, func(i, j int) bool {
		if len(loops[i].Path) != len(loops[j].Path) {
			return len(loops[i].Path) < len(loops[j].Path)
		}
		return strings.Join(loops[i].Path, ">") < strings.Join(loops[j].Path, ">")
	})

	r, b := 0, 0
	for i := range loops {
		if loops[i].Kind == LoopReinforcing {
			r++
			loops[i].ID = fmt.Sprintf("R%d", r)
		} else {
			b++
			loops[i].ID = fmt.Sprintf("B%d", b)
		}
	}
	return loops
}

func countNegative(pols []Polarity) int {
	n := 0
	for _, p := range pols {
		if p == PolarityNegative {
			n++
		}
	}
	return n
}
