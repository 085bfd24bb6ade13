package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// geminiAdapter drives the Gemini CLI over the Agent Client Protocol (ACP):
// JSON-RPC over stdio with an initialize/session-new handshake, streaming
// session/update notifications, and agent-to-client session/request_permission
// requests. Permission options map onto the universal once/always/reject
// decisions by option kind.
type geminiAdapter struct {
	binary  string
	proc    *lineProcess
	updates chan Update
	pending *pendingSet
	logger  *slog.Logger
	nextID  atomic.Int64
	optMu   sync.Mutex
	options map[string]acpOptionSet

	// sessionID is written by the readLoop goroutine when the session/new
	// response arrives and read by SendMessage on a request goroutine.
	mu        sync.Mutex
	sessionID string
}

func newGeminiAdapter(binary string) Adapter {
	return &geminiAdapter{
		binary:  binary,
		updates: make(chan Update, 64),
		pending: newPendingSet(),
	}
}

// acpOptions is remembered per pending request so a universal decision can be
// mapped back to the option id the agent offered.
type acpOptionSet struct {
	allowOnce   string
	allowAlways string
	reject      string
}

func (a *geminiAdapter) Start(ctx context.Context, cfg StartConfig) error {
	args := []string{"--experimental-acp"}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.PermissionMode == schema.PermissionModeBypass {
		args = append(args, "--yolo")
	}
	proc, err := startLineProcess(a.binary, args, cfg.WorkDir, nil)
	if err != nil {
		return schema.UpstreamAgent("gemini failed to start", err)
	}
	a.proc = proc
	a.logger = cfg.Logger
	if a.logger == nil {
		a.logger = slog.Default()
	}

	if err := a.sendRequest("initialize", map[string]any{
		"protocolVersion": 1,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{"readTextFile": false, "writeTextFile": false},
		},
	}); err != nil {
		_ = proc.Stop()
		return schema.UpstreamAgent("gemini rejected initialize", err)
	}
	if err := a.sendRequest("session/new", map[string]any{
		"cwd":        cfg.WorkDir,
		"mcpServers": []any{},
	}); err != nil {
		_ = proc.Stop()
		return schema.UpstreamAgent("gemini rejected session/new", err)
	}

	go a.readLoop(cfg.SessionID)
	return nil
}

func (a *geminiAdapter) sendRequest(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id, _ := json.Marshal(a.nextID.Add(1))
	return a.proc.WriteJSON(rpcMessage{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
}

func (a *geminiAdapter) session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *geminiAdapter) SendMessage(ctx context.Context, text string) error {
	sessionID := a.session()
	if sessionID == "" {
		return schema.Conflictf("gemini session is still starting")
	}
	err := a.sendRequest("session/prompt", map[string]any{
		"sessionId": sessionID,
		"prompt": []map[string]any{
			{"type": "text", "text": text},
		},
	})
	if err != nil {
		return schema.UpstreamAgent("gemini rejected message", err)
	}
	return nil
}

func (a *geminiAdapter) readLoop(sessionID string) {
	defer close(a.updates)

	for {
		line, err := a.proc.ReadLine()
		if err != nil {
			if err != io.EOF {
				a.updates <- Update{Data: errorData("protocol", fmt.Sprintf("gemini read failed: %v", err))}
			}
			_ = a.proc.Stop()
			a.updates <- Update{Ended: true}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			a.logger.Warn("skipping unparseable gemini line", "session", sessionID, "error", err)
			continue
		}

		switch {
		case msg.Method == "" && msg.Error != nil:
			a.updates <- Update{Data: errorData("rpc", msg.Error.Message)}
			a.updates <- Update{TurnComplete: true}
		case msg.Method == "" && msg.Result != nil:
			a.handleResult(msg.Result)
		case msg.Method == "session/request_permission" && msg.ID != nil:
			a.handlePermissionRequest(msg)
		case msg.Method == "session/update":
			a.handleUpdate(msg.Params)
		}
	}
}

// handleResult distinguishes the session/new response (carries sessionId)
// from the session/prompt response (ends the turn).
func (a *geminiAdapter) handleResult(result json.RawMessage) {
	var r struct {
		SessionID  string `json:"sessionId"`
		StopReason string `json:"stopReason"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		return
	}
	switch {
	case r.SessionID != "" && a.session() == "":
		a.mu.Lock()
		a.sessionID = r.SessionID
		a.mu.Unlock()
		a.updates <- Update{Data: startedData("gemini session started")}
	case r.StopReason != "":
		if r.StopReason != "end_turn" && r.StopReason != "max_tokens" {
			a.updates <- Update{Data: errorData("turn", "prompt stopped: "+r.StopReason)}
		}
		a.updates <- Update{TurnComplete: true}
	}
}

func (a *geminiAdapter) handleUpdate(params json.RawMessage) {
	var p struct {
		Update struct {
			SessionUpdate string `json:"sessionUpdate"`
			Content       struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"update"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	if p.Update.SessionUpdate == "agent_message_chunk" && p.Update.Content.Text != "" {
		a.updates <- Update{Data: textData("assistant", p.Update.Content.Text)}
	}
}

func (a *geminiAdapter) handlePermissionRequest(msg rpcMessage) {
	var p struct {
		ToolCall struct {
			Title     string         `json:"title"`
			ToolName  string         `json:"toolName"`
			Kind      string         `json:"kind"`
			Input     map[string]any `json:"input"`
			Locations []struct {
				Path string `json:"path"`
			} `json:"locations"`
		} `json:"toolCall"`
		Options []struct {
			ID   string `json:"optionId"`
			Kind string `json:"kind"`
		} `json:"options"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return
	}

	opts := acpOptionSet{}
	for _, o := range p.Options {
		switch o.Kind {
		case "allow_once":
			opts.allowOnce = o.ID
		case "allow_always":
			opts.allowAlways = o.ID
		case "reject_once", "reject_always":
			if opts.reject == "" {
				opts.reject = o.ID
			}
		}
	}

	id := uuid.NewString()
	a.pending.add(id, string(msg.ID), nil)
	a.pendingOptions(id, opts)

	perm := p.ToolCall.ToolName
	if perm == "" {
		perm = p.ToolCall.Kind
	}
	var patterns []string
	for _, loc := range p.ToolCall.Locations {
		patterns = append(patterns, loc.Path)
	}
	a.updates <- Update{Data: &schema.EventData{PermissionAsked: &schema.PermissionRequest{
		ID:         id,
		Permission: perm,
		Patterns:   patterns,
		Metadata:   p.ToolCall.Input,
	}}}
}

// option sets ride alongside the pending entries; keyed the same way.
func (a *geminiAdapter) pendingOptions(id string, opts acpOptionSet) {
	a.optMu.Lock()
	defer a.optMu.Unlock()
	if a.options == nil {
		a.options = make(map[string]acpOptionSet)
	}
	a.options[id] = opts
}

func (a *geminiAdapter) takeOptions(id string) acpOptionSet {
	a.optMu.Lock()
	defer a.optMu.Unlock()
	opts := a.options[id]
	delete(a.options, id)
	return opts
}

func (a *geminiAdapter) ResolvePermission(ctx context.Context, requestID string, decision schema.PermissionDecision) error {
	e, err := a.pending.resolve(requestID)
	if err != nil {
		return err
	}
	opts := a.takeOptions(requestID)

	outcome := map[string]any{"type": "selected"}
	switch decision {
	case schema.DecisionAlways:
		if opts.allowAlways != "" {
			outcome["optionId"] = opts.allowAlways
		} else {
			outcome["optionId"] = opts.allowOnce
		}
	case schema.DecisionOnce:
		outcome["optionId"] = opts.allowOnce
	case schema.DecisionReject:
		if opts.reject != "" {
			outcome["optionId"] = opts.reject
		} else {
			outcome = map[string]any{"type": "cancelled"}
		}
	}

	result, _ := json.Marshal(map[string]any{"outcome": outcome})
	resp := rpcMessage{JSONRPC: "2.0", ID: json.RawMessage(e.native), Result: result}
	if err := a.proc.WriteJSON(resp); err != nil {
		return schema.UpstreamAgent("gemini rejected permission response", err)
	}
	return nil
}

// ACP has no multi-part question protocol; question ids never exist here.
func (a *geminiAdapter) ResolveQuestion(ctx context.Context, requestID string, answers [][]string) error {
	return schema.NotFoundf("unknown request id %s", requestID)
}

func (a *geminiAdapter) RejectQuestion(ctx context.Context, requestID string) error {
	return schema.NotFoundf("unknown request id %s", requestID)
}

func (a *geminiAdapter) Updates() <-chan Update { return a.updates }

func (a *geminiAdapter) Close() error {
	if a.proc == nil {
		return nil
	}
	return a.proc.Stop()
}
