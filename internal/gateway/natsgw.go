package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conclave/internal/natsbus"
	"github.com/nats-io/nats.go"
)

// wireRequest is the JSON payload published to a worker's invoke subject.
type wireRequest struct {
	Role         string `json:"role"`
	Prompt       string `json:"prompt"`
	Context      string `json:"context,omitempty"`
	Tier         string `json:"tier,omitempty"`
	ToolsEnabled bool   `json:"tools_enabled,omitempty"`
}

// wireReply is what a worker process responds with. A non-empty Error field
// takes precedence over Text.
type wireReply struct {
	Text         string `json:"text"`
	Error        string `json:"error,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// NATSGateway reaches worker processes over the bus using request/reply on
// worker.<key>.invoke. Workers live outside this service; the gateway only
// ships role context and prompt text across and classifies what comes back.
type NATSGateway struct {
	client  *natsbus.Client
	timeout time.Duration
}

func NewNATSGateway(client *natsbus.Client, timeout time.Duration) *NATSGateway {
	return &NATSGateway{client: client, timeout: timeout}
}

func (g *NATSGateway) Invoke(ctx context.Context, req Request) (*Reply, error) {
	payload, err := json.Marshal(wireRequest{
		Role:         req.Worker.Role,
		Prompt:       req.Prompt,
		Context:      req.Context,
		Tier:         req.Worker.Tier,
		ToolsEnabled: req.ToolsEnabled,
	})
	if err != nil {
		return nil, &Error{Reason: FailureMalformed, Err: err}
	}

	// The configured timeout is a backstop on top of whatever deadline the
	// caller's ctx already carries; cancelling ctx aborts the request
	// immediately either way.
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msg, err := g.client.Request(callCtx, natsbus.TopicWorkerInvoke(req.Worker.Key), payload)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, &Error{Reason: FailureCancelled, Err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return nil, &Error{Reason: FailureTimeout, Err: err}
		}
		return nil, &Error{Reason: FailureMalformed, Err: err}
	}

	var reply wireReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, &Error{Reason: FailureMalformed, Err: err}
	}
	if reply.Error != "" {
		reason := FailureMalformed
		if reply.Error == "rate_limited" {
			reason = FailureRateLimited
		}
		return nil, &Error{Reason: reason, Err: fmt.Errorf("worker reported: %s", reply.Error)}
	}

	return &Reply{
		Text: reply.Text,
		Usage: Usage{
			InputTokens:  reply.InputTokens,
			OutputTokens: reply.OutputTokens,
		},
	}, nil
}
