package protocol

import (
	"fmt"
	"strings"
)

// Entry is one record of run history: a worker's output for a phase, or an
// aggregated artifact (Worker empty) produced by a deterministic step.
type Entry struct {
	Phase    string
	Round    int
	Worker   string
	Text     string
	Artifact any
}

// History is the append-only record a run accumulates. Entries are never
// revised or discarded; later rounds see everything earlier rounds produced.
// A single goroutine (the run's controller) writes; reads happen between
// phases, so no locking is needed.
type History struct {
	entries []Entry
}

func (h *History) Append(e Entry) {
	h.entries = append(h.entries, e)
}

func (h *History) All() []Entry {
	return h.entries
}

// Phase returns every entry recorded under a phase name, across all rounds.
func (h *History) Phase(name string) []Entry {
	var out []Entry
	for _, e := range h.entries {
		if e.Phase == name {
			out = append(out, e)
		}
	}
	return out
}

// LastRound returns the entries of the most recent round that touched the
// phase.
func (h *History) LastRound(name string) []Entry {
	last := 0
	for _, e := range h.entries {
		if e.Phase == name && e.Round > last {
			last = e.Round
		}
	}
	if last == 0 {
		return nil
	}
	var out []Entry
	for _, e := range h.entries {
		if e.Phase == name && e.Round == last {
			out = append(out, e)
		}
	}
	return out
}

// Artifact returns the most recent aggregated artifact a phase produced.
func (h *History) Artifact(phase string) (any, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.Phase == phase && e.Worker == "" && e.Artifact != nil {
			return e.Artifact, true
		}
	}
	return nil, false
}

// ArtifactAs fetches a phase's latest aggregated artifact with its concrete
// type. The second return is false when the phase has not produced one, or
// produced a different type.
func ArtifactAs[T any](h *History, phase string) (T, bool) {
	var zero T
	a, ok := h.Artifact(phase)
	if !ok {
		return zero, false
	}
	v, ok := a.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Collect gathers the typed per-worker artifacts of a slice of entries,
// skipping entries whose artifact is missing or of another type.
func Collect[T any](entries []Entry) []T {
	var out []T
	for _, e := range entries {
		if v, ok := e.Artifact.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Transcript renders per-worker entries of a phase as an attributed text
// block for prompt context. Aggregated entries are skipped.
func Transcript(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Worker == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", e.Worker, strings.TrimSpace(e.Text))
	}
	return strings.TrimSpace(b.String())
}
