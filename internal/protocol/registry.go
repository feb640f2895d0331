package protocol

import (
	"fmt"
	"sort"
)

// Registry is the static protocol catalogue. It is built once at startup;
// nothing mutates a definition after that.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry builds and validates the full catalogue.
func NewRegistry() (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range []*Definition{
		newParallelSynthesis(),
		newDebate(),
		newBorda(),
		newACH(),
		newVickrey(),
		newDelphi(),
		newCausalLoop(),
		newEcocycle(),
	} {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("protocol %s: %w", d.ID, err)
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate protocol id %s", d.ID)
		}
		r.defs[d.ID] = d
	}
	return r, nil
}

func (r *Registry) Get(id string) (*Definition, error) {
	d, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q", id)
	}
	return d, nil
}

// List returns the catalogue sorted by id.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validate(d *Definition) error {
	if d.ID == "" || len(d.Phases) == 0 {
		return fmt.Errorf("empty definition")
	}
	if d.MinWorkers < 1 || d.MaxWorkers < d.MinWorkers {
		return fmt.Errorf("bad worker bounds [%d, %d]", d.MinWorkers, d.MaxWorkers)
	}
	names := make(map[string]bool, len(d.Phases))
	for i, p := range d.Phases {
		if p.Name == "" {
			return fmt.Errorf("phase %d unnamed", i)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate phase name %q", p.Name)
		}
		names[p.Name] = true
		switch p.Kind {
		case FanOutGenerate, LLMAggregate, FanInSynthesize:
			if p.Prompt == nil {
				return fmt.Errorf("phase %q: worker phase without a prompt", p.Name)
			}
		case DeterministicAggregate:
			if p.Aggregate == nil {
				return fmt.Errorf("phase %q: aggregate phase without a function", p.Name)
			}
		default:
			return fmt.Errorf("phase %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	if d.Loop != nil {
		l := d.Loop
		if l.StartPhase < 0 || l.EndPhase >= len(d.Phases) || l.StartPhase > l.EndPhase {
			return fmt.Errorf("loop span [%d, %d] out of range", l.StartPhase, l.EndPhase)
		}
		if !d.SupportsRounds {
			return fmt.Errorf("loop declared but rounds unsupported")
		}
	}
	return nil
}
