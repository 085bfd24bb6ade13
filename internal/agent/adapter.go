// Package agent defines the per-agent-family adapter contract and the
// registry of agent families installed on this host.
//
// An adapter hides one agent's process model and native protocol behind the
// universal vocabulary: it emits Updates carrying universal event payloads,
// and accepts universal commands (send message, resolve permission, resolve
// question). One adapter instance serves exactly one session.
package agent

import (
	"context"
	"log/slog"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Update is one item pushed by an adapter to its session. Data, when non-nil,
// is appended to the session's event log. TurnComplete marks the end of the
// in-flight turn; Ended marks the underlying agent as gone (terminal).
type Update struct {
	Data         *schema.EventData
	TurnComplete bool
	Ended        bool
}

// StartConfig carries the session parameters an adapter needs to launch or
// attach to the underlying agent.
type StartConfig struct {
	SessionID      string
	Mode           string
	PermissionMode schema.PermissionMode
	Model          string
	Variant        string
	WorkDir        string
	Logger         *slog.Logger
}

// Adapter is the capability set every agent family implements. Adapters map
// every native event to exactly one universal payload and surface native
// fatal errors as an error Update followed by Ended.
type Adapter interface {
	// Start launches or attaches to the agent's own session. A missing
	// binary or a rejected configuration is an UpstreamAgent error.
	Start(ctx context.Context, cfg StartConfig) error

	// SendMessage begins a turn and returns immediately; resulting events
	// arrive through Updates. Adapters do not enforce one-turn-at-a-time;
	// the session manager does, uniformly.
	SendMessage(ctx context.Context, text string) error

	// ResolvePermission delivers a permission decision to the suspended
	// turn. NotFound if the request id is unknown to this adapter,
	// Conflict if already resolved.
	ResolvePermission(ctx context.Context, requestID string, decision schema.PermissionDecision) error

	// ResolveQuestion delivers question answers, one label slice per
	// sub-question.
	ResolveQuestion(ctx context.Context, requestID string, answers [][]string) error

	// RejectQuestion resolves a question request as rejected.
	RejectQuestion(ctx context.Context, requestID string) error

	// Updates returns the adapter's event channel. The channel closes
	// after the final Update (Ended).
	Updates() <-chan Update

	// Close hard-stops the underlying process if still running.
	Close() error
}

func textData(role, text string) *schema.EventData {
	return &schema.EventData{Message: schema.TextMessage(role, text)}
}

func errorData(kind, msg string) *schema.EventData {
	return &schema.EventData{Error: &schema.ErrorData{Kind: kind, Message: msg}}
}

func startedData(msg string) *schema.EventData {
	return &schema.EventData{Started: &schema.Started{Message: msg}}
}
