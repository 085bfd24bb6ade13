package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// codexAdapter drives the Codex CLI app server: JSON-RPC over stdio. We start
// one thread per session; turns are created with turn/create and progress
// arrives as codex/event/* notifications. Command approval comes back as a
// server-to-client request (execCommandApproval), which we surface as a
// universal permission event and answer once the broker delivers a decision.
type codexAdapter struct {
	binary  string
	proc    *lineProcess
	updates chan Update
	pending *pendingSet
	logger  *slog.Logger
	nextID  atomic.Int64

	// threadID is written by the readLoop goroutine when the thread/start
	// response arrives and read by SendMessage on a request goroutine.
	mu       sync.Mutex
	threadID string
}

func newCodexAdapter(binary string) Adapter {
	return &codexAdapter{
		binary:  binary,
		updates: make(chan Update, 64),
		pending: newPendingSet(),
	}
}

// rpcMessage is a JSON-RPC 2.0 envelope; requests, responses and
// notifications are discriminated by which fields are present.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *codexAdapter) Start(ctx context.Context, cfg StartConfig) error {
	args := []string{"app-server"}
	proc, err := startLineProcess(a.binary, args, cfg.WorkDir, nil)
	if err != nil {
		return schema.UpstreamAgent("codex failed to start", err)
	}
	a.proc = proc
	a.logger = cfg.Logger
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// thread/start is fire-and-forget here; the response carries the
	// thread id and the readLoop picks it up.
	params := map[string]any{}
	if cfg.Model != "" {
		params["model"] = cfg.Model
	}
	switch cfg.PermissionMode {
	case schema.PermissionModeBypass:
		params["approvalPolicy"] = "never"
	case schema.PermissionModePlan:
		params["approvalPolicy"] = "untrusted"
	default:
		params["approvalPolicy"] = "on-request"
	}
	if err := a.sendRequest("thread/start", params); err != nil {
		_ = proc.Stop()
		return schema.UpstreamAgent("codex rejected thread start", err)
	}

	go a.readLoop(cfg.SessionID)
	return nil
}

func (a *codexAdapter) sendRequest(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id, _ := json.Marshal(a.nextID.Add(1))
	return a.proc.WriteJSON(rpcMessage{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
}

func (a *codexAdapter) thread() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

func (a *codexAdapter) SendMessage(ctx context.Context, text string) error {
	threadID := a.thread()
	if threadID == "" {
		return schema.Conflictf("codex thread is still starting")
	}
	params := map[string]any{
		"threadId": threadID,
		"input": []map[string]any{
			{"type": "text", "text": text},
		},
	}
	if err := a.sendRequest("turn/create", params); err != nil {
		return schema.UpstreamAgent("codex rejected message", err)
	}
	return nil
}

func (a *codexAdapter) readLoop(sessionID string) {
	defer close(a.updates)

	for {
		line, err := a.proc.ReadLine()
		if err != nil {
			if err != io.EOF {
				a.updates <- Update{Data: errorData("protocol", fmt.Sprintf("codex read failed: %v", err))}
			}
			_ = a.proc.Stop()
			a.updates <- Update{Ended: true}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			a.logger.Warn("skipping unparseable codex line", "session", sessionID, "error", err)
			continue
		}

		switch {
		case msg.Method == "" && msg.Result != nil:
			a.handleResult(msg.Result)
		case msg.Method == "" && msg.Error != nil:
			a.handleRPCError(msg.Error)
		case msg.ID != nil:
			// Server-to-client request: approval.
			a.handleServerRequest(msg)
		default:
			a.handleNotification(msg.Method, msg.Params)
		}
	}
}

// handleResult picks the thread id out of the thread/start response. Other
// responses carry nothing the universal protocol needs.
func (a *codexAdapter) handleResult(result json.RawMessage) {
	if a.thread() != "" {
		return
	}
	var r struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		return
	}
	id := r.Thread.ID
	if id == "" {
		id = r.ThreadID
	}
	if id == "" {
		return
	}
	a.mu.Lock()
	a.threadID = id
	a.mu.Unlock()
	a.updates <- Update{Data: startedData("codex thread started")}
}

// handleRPCError surfaces a failed request and ends the turn; a wedged
// in-flight flag would otherwise refuse every later message.
func (a *codexAdapter) handleRPCError(rpcErr *rpcError) {
	a.updates <- Update{Data: errorData("rpc", rpcErr.Message)}
	a.updates <- Update{TurnComplete: true}
}

func (a *codexAdapter) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "codex/event/agent_message":
		var p struct {
			Msg struct {
				Message string `json:"message"`
			} `json:"msg"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Msg.Message == "" {
			return
		}
		a.updates <- Update{Data: textData("assistant", p.Msg.Message)}
	case "codex/event/task_complete", "turn/completed":
		a.updates <- Update{TurnComplete: true}
	case "codex/event/error":
		var p struct {
			Msg struct {
				Message string `json:"message"`
			} `json:"msg"`
		}
		_ = json.Unmarshal(params, &p)
		a.updates <- Update{Data: errorData("agent", p.Msg.Message)}
	}
}

func (a *codexAdapter) handleServerRequest(msg rpcMessage) {
	if msg.Method != "execCommandApproval" && msg.Method != "applyPatchApproval" {
		// Decline anything we cannot represent rather than hang the turn.
		_ = a.proc.WriteJSON(rpcMessage{JSONRPC: "2.0", ID: msg.ID, Error: &rpcError{Code: -32601, Message: "unsupported request"}})
		return
	}

	var p struct {
		Command []string `json:"command"`
		CWD     string   `json:"cwd"`
	}
	_ = json.Unmarshal(msg.Params, &p)

	id := uuid.NewString()
	a.pending.add(id, string(msg.ID), nil)

	perm := "shell.exec"
	if msg.Method == "applyPatchApproval" {
		perm = "fs.patch"
	}
	var patterns []string
	if len(p.Command) > 0 {
		patterns = append(patterns, strings.Join(p.Command, " "))
	}
	if p.CWD != "" {
		patterns = append(patterns, p.CWD)
	}
	a.updates <- Update{Data: &schema.EventData{PermissionAsked: &schema.PermissionRequest{
		ID:         id,
		Permission: perm,
		Patterns:   patterns,
	}}}
}

func (a *codexAdapter) ResolvePermission(ctx context.Context, requestID string, decision schema.PermissionDecision) error {
	e, err := a.pending.resolve(requestID)
	if err != nil {
		return err
	}
	verdict := "approved"
	if decision == schema.DecisionReject {
		verdict = "denied"
	}
	if decision == schema.DecisionAlways {
		verdict = "approved_for_session"
	}
	result, _ := json.Marshal(map[string]any{"decision": verdict})
	resp := rpcMessage{JSONRPC: "2.0", ID: json.RawMessage(e.native), Result: result}
	if err := a.proc.WriteJSON(resp); err != nil {
		return schema.UpstreamAgent("codex rejected approval response", err)
	}
	return nil
}

// Codex has no multi-part question protocol; question ids can never exist
// for this adapter.
func (a *codexAdapter) ResolveQuestion(ctx context.Context, requestID string, answers [][]string) error {
	return schema.NotFoundf("unknown request id %s", requestID)
}

func (a *codexAdapter) RejectQuestion(ctx context.Context, requestID string) error {
	return schema.NotFoundf("unknown request id %s", requestID)
}

func (a *codexAdapter) Updates() <-chan Update { return a.updates }

func (a *codexAdapter) Close() error {
	if a.proc == nil {
		return nil
	}
	return a.proc.Stop()
}
