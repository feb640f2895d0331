// Package gateway abstracts a single call to a reasoning worker. The engine
// treats a worker as a role-bound text generator behind a network boundary;
// retries, failure policy and aggregation all live with the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"conclave/internal/roster"
)

// FailureReason classifies why a worker invocation produced no usable text.
type FailureReason string

const (
	FailureTimeout     FailureReason = "timeout"
	FailureRateLimited FailureReason = "rate_limited"
	FailureMalformed   FailureReason = "malformed"
	FailureCancelled   FailureReason = "cancelled"
)

// Error is a typed invocation failure.
type Error struct {
	Reason FailureReason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker invocation %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("worker invocation %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the failure classification from an error chain,
// defaulting to Malformed for untyped errors.
func ReasonOf(err error) FailureReason {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return FailureMalformed
}

// Request carries everything the worker needs for one invocation. Context
// is opaque accumulated text (prior phase outputs, round history); the
// engine never interprets it.
type Request struct {
	Worker       roster.Worker `json:"-"`
	Prompt       string        `json:"prompt"`
	Context      string        `json:"context,omitempty"`
	ToolsEnabled bool          `json:"tools_enabled,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Reply struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Gateway invokes one worker once. Implementations must honor ctx
// cancellation and its deadline; no retries happen at this layer.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (*Reply, error)
}
