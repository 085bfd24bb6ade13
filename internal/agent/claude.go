package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// claudeAdapter drives the Claude Code CLI over its stream-json control
// protocol: user messages go in as JSON lines on stdin, assistant output and
// control requests come back as JSON lines on stdout. Tool authorization
// arrives as can_use_tool control requests, which we surface as universal
// permission/question events and answer with control responses once the
// broker delivers a decision.
type claudeAdapter struct {
	binary  string
	proc    *lineProcess
	updates chan Update
	pending *pendingSet
	logger  *slog.Logger
}

func newClaudeAdapter(binary string) Adapter {
	return &claudeAdapter{
		binary:  binary,
		updates: make(chan Update, 64),
		pending: newPendingSet(),
	}
}

// claudeMessage is the envelope for every line the CLI emits.
type claudeMessage struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type claudeCanUseTool struct {
	Subtype  string         `json:"subtype"`
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
}

func (a *claudeAdapter) Start(ctx context.Context, cfg StartConfig) error {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	switch cfg.PermissionMode {
	case schema.PermissionModeBypass:
		args = append(args, "--dangerously-skip-permissions")
	case schema.PermissionModePlan:
		args = append(args, "--permission-mode", "plan")
	default:
		// Route tool authorization through the control channel so it
		// surfaces as permission events instead of an interactive prompt.
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	if cfg.Variant != "" {
		args = append(args, "--fallback-model", cfg.Variant)
	}

	proc, err := startLineProcess(a.binary, args, cfg.WorkDir, nil)
	if err != nil {
		return schema.UpstreamAgent("claude failed to start", err)
	}
	a.proc = proc
	a.logger = cfg.Logger
	if a.logger == nil {
		a.logger = slog.Default()
	}

	go a.readLoop(cfg.SessionID)
	return nil
}

func (a *claudeAdapter) SendMessage(ctx context.Context, text string) error {
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
	if err := a.proc.WriteJSON(msg); err != nil {
		return schema.UpstreamAgent("claude rejected message", err)
	}
	return nil
}

func (a *claudeAdapter) readLoop(sessionID string) {
	defer close(a.updates)

	for {
		line, err := a.proc.ReadLine()
		if err != nil {
			if err != io.EOF {
				a.updates <- Update{Data: errorData("protocol", fmt.Sprintf("claude read failed: %v", err))}
			}
			_ = a.proc.Stop()
			a.updates <- Update{Ended: true}
			return
		}

		var msg claudeMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			a.logger.Warn("skipping unparseable claude line", "session", sessionID, "error", err)
			continue
		}

		switch msg.Type {
		case "system":
			if msg.Subtype == "init" {
				a.updates <- Update{Data: startedData("claude session started")}
			}
		case "assistant":
			if data := a.translateAssistant(msg.Message); data != nil {
				a.updates <- Update{Data: data}
			}
		case "result":
			if msg.IsError {
				a.updates <- Update{Data: errorData("turn", msg.Result)}
			}
			a.updates <- Update{TurnComplete: true}
		case "control_request":
			a.handleControlRequest(msg.RequestID, msg.Request)
		}
	}
}

// translateAssistant maps an assistant message to a universal message event.
// Text and tool_use blocks map to parts; anything else passes through by
// type only.
func (a *claudeAdapter) translateAssistant(raw json.RawMessage) *schema.EventData {
	var inner struct {
		Role    string               `json:"role"`
		Content []claudeContentBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil
	}
	parts := make([]schema.MessagePart, 0, len(inner.Content))
	for _, block := range inner.Content {
		switch block.Type {
		case "text":
			parts = append(parts, schema.MessagePart{Type: "text", Text: block.Text})
		case "tool_use":
			parts = append(parts, schema.MessagePart{Type: "tool_use", Name: block.Name, Input: block.Input})
		default:
			parts = append(parts, schema.MessagePart{Type: block.Type})
		}
	}
	if len(parts) == 0 {
		return nil
	}
	role := inner.Role
	if role == "" {
		role = "assistant"
	}
	return &schema.EventData{Message: &schema.Message{Role: role, Parts: parts}}
}

func (a *claudeAdapter) handleControlRequest(nativeID string, raw json.RawMessage) {
	var req claudeCanUseTool
	if err := json.Unmarshal(raw, &req); err != nil || req.Subtype != "can_use_tool" {
		return
	}

	id := uuid.NewString()
	if req.ToolName == "AskUserQuestion" {
		question := parseClaudeQuestions(id, req.Input)
		a.pending.add(id, nativeID, question)
		a.updates <- Update{Data: &schema.EventData{QuestionAsked: question}}
		return
	}

	a.pending.add(id, nativeID, nil)
	a.updates <- Update{Data: &schema.EventData{PermissionAsked: &schema.PermissionRequest{
		ID:         id,
		Permission: req.ToolName,
		Patterns:   claudePatterns(req.Input),
		Metadata:   req.Input,
	}}}
}

// parseClaudeQuestions maps the AskUserQuestion tool input to a universal
// question request. Unparseable input degrades to a single free-form question
// with the raw header.
func parseClaudeQuestions(id string, input map[string]any) *schema.QuestionRequest {
	out := &schema.QuestionRequest{ID: id}
	raw, _ := input["questions"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		q := schema.Question{}
		q.Header, _ = m["header"].(string)
		q.Question, _ = m["question"].(string)
		q.MultiSelect, _ = m["multiSelect"].(bool)
		opts, _ := m["options"].([]any)
		for _, o := range opts {
			om, ok := o.(map[string]any)
			if !ok {
				continue
			}
			opt := schema.QuestionOption{}
			opt.Label, _ = om["label"].(string)
			opt.Description, _ = om["description"].(string)
			q.Options = append(q.Options, opt)
		}
		out.Questions = append(out.Questions, q)
	}
	return out
}

// claudePatterns extracts the paths/commands a tool invocation would touch.
func claudePatterns(input map[string]any) []string {
	var out []string
	for _, key := range []string{"command", "file_path", "path", "pattern"} {
		if v, ok := input[key].(string); ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (a *claudeAdapter) ResolvePermission(ctx context.Context, requestID string, decision schema.PermissionDecision) error {
	e, err := a.pending.resolve(requestID)
	if err != nil {
		return err
	}
	if decision == schema.DecisionReject {
		return a.writeControlResponse(e.native, map[string]any{
			"behavior": "deny",
			"message":  "denied by user",
		})
	}
	return a.writeControlResponse(e.native, map[string]any{
		"behavior": "allow",
	})
}

func (a *claudeAdapter) ResolveQuestion(ctx context.Context, requestID string, answers [][]string) error {
	e, err := a.pending.resolve(requestID)
	if err != nil {
		return err
	}
	// The CLI consumes answers embedded in the allowed tool input.
	return a.writeControlResponse(e.native, map[string]any{
		"behavior":     "allow",
		"updatedInput": map[string]any{"answers": answers},
	})
}

func (a *claudeAdapter) RejectQuestion(ctx context.Context, requestID string) error {
	e, err := a.pending.resolve(requestID)
	if err != nil {
		return err
	}
	return a.writeControlResponse(e.native, map[string]any{
		"behavior": "deny",
		"message":  "question rejected by user",
	})
}

func (a *claudeAdapter) writeControlResponse(nativeID string, response map[string]any) error {
	payload := map[string]any{"subtype": "success", "request_id": nativeID}
	for k, v := range response {
		payload[k] = v
	}
	msg := map[string]any{
		"type":     "control_response",
		"response": payload,
	}
	if err := a.proc.WriteJSON(msg); err != nil {
		return schema.UpstreamAgent("claude rejected control response", err)
	}
	return nil
}

func (a *claudeAdapter) Updates() <-chan Update { return a.updates }

func (a *claudeAdapter) Close() error {
	if a.proc == nil {
		return nil
	}
	return a.proc.Stop()
}
