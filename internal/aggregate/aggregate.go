// Package aggregate implements the deterministic scoring, elimination and
// detection algorithms behind the protocol catalogue. Every function here is
// pure: no I/O, no randomness, same inputs always produce the same outputs.
// Missing inputs (workers dropped under best-effort policy) degrade the
// result instead of failing, down to the quorum floor.
package aggregate

import "errors"

// ErrInsufficientQuorum means too many inputs are missing for the algorithm
// to produce a meaningful result.
var ErrInsufficientQuorum = errors.New("insufficient quorum")
