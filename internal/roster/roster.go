// Package roster holds the fixed set of reasoning workers a run can draw on.
// Workers are opaque identities plus role text; the engine never interprets
// either beyond passing them to the gateway.
package roster

import "fmt"

type Worker struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Role string `json:"role"`
	Tier string `json:"tier"`
}

// Roster is an ordered, immutable worker set. The first entry acts as the
// lead worker unless a phase designates another.
type Roster []Worker

func (r Roster) Get(key string) (Worker, bool) {
	for _, w := range r {
		if w.Key == key {
			return w, true
		}
	}
	return Worker{}, false
}

func (r Roster) Lead() Worker {
	if len(r) == 0 {
		return Worker{}
	}
	return r[0]
}

func (r Roster) Keys() []string {
	keys := make([]string, len(r))
	for i, w := range r {
		keys[i] = w.Key
	}
	return keys
}

// Subset resolves keys against the roster, preserving request order.
func (r Roster) Subset(keys []string) (Roster, error) {
	out := make(Roster, 0, len(keys))
	for _, k := range keys {
		w, ok := r.Get(k)
		if !ok {
			return nil, fmt.Errorf("unknown worker %q", k)
		}
		out = append(out, w)
	}
	return out, nil
}
