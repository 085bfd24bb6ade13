package schema

import "time"

// Event is one entry in a session's append-only log. IDs start at 1 and are
// dense and strictly increasing within a session.
type Event struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent,omitempty"`
	Data      EventData `json:"data"`
}

// EventKind discriminates between event payload variants.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindMessage
	KindStarted
	KindError
	KindQuestionAsked
	KindPermissionAsked
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindStarted:
		return "started"
	case KindError:
		return "error"
	case KindQuestionAsked:
		return "questionAsked"
	case KindPermissionAsked:
		return "permissionAsked"
	default:
		return "unknown"
	}
}

// EventData is the tagged payload of an Event. Exactly one field is non-nil;
// the JSON encoding has exactly one key, matching the tag.
type EventData struct {
	Message         *Message           `json:"message,omitempty"`
	Started         *Started           `json:"started,omitempty"`
	Error           *ErrorData         `json:"error,omitempty"`
	QuestionAsked   *QuestionRequest   `json:"questionAsked,omitempty"`
	PermissionAsked *PermissionRequest `json:"permissionAsked,omitempty"`
}

// Kind reports which variant is populated.
func (d EventData) Kind() EventKind {
	switch {
	case d.Message != nil:
		return KindMessage
	case d.Started != nil:
		return KindStarted
	case d.Error != nil:
		return KindError
	case d.QuestionAsked != nil:
		return KindQuestionAsked
	case d.PermissionAsked != nil:
		return KindPermissionAsked
	default:
		return KindUnknown
	}
}

// Valid reports whether exactly one variant is populated.
func (d EventData) Valid() bool {
	n := 0
	if d.Message != nil {
		n++
	}
	if d.Started != nil {
		n++
	}
	if d.Error != nil {
		n++
	}
	if d.QuestionAsked != nil {
		n++
	}
	if d.PermissionAsked != nil {
		n++
	}
	return n == 1
}

// Message is agent output visible to the user.
type Message struct {
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// MessagePart is one segment of a message. Text parts carry Text; other part
// types (tool use, tool results) pass through with whatever the agent gave us.
type MessagePart struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Name   string         `json:"name,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) *Message {
	return &Message{
		Role:  role,
		Parts: []MessagePart{{Type: "text", Text: text}},
	}
}

// Text concatenates the text of all text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// Started marks the underlying agent session as ready.
type Started struct {
	Message string `json:"message,omitempty"`
}

// ErrorData reports an agent-side failure through the log.
type ErrorData struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// PermissionDecision is the reply to a permission request.
type PermissionDecision string

const (
	DecisionOnce   PermissionDecision = "once"
	DecisionAlways PermissionDecision = "always"
	DecisionReject PermissionDecision = "reject"
)

// ValidDecision reports whether d is one of the three accepted replies.
func ValidDecision(d PermissionDecision) bool {
	switch d {
	case DecisionOnce, DecisionAlways, DecisionReject:
		return true
	}
	return false
}

// PermissionRequest asks for authorization before the agent acts. The ID is
// unique within the session and resolved at most once.
type PermissionRequest struct {
	ID         string         `json:"id"`
	Permission string         `json:"permission"`
	Patterns   []string       `json:"patterns,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// QuestionRequest asks the user one or more questions mid-turn.
type QuestionRequest struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Question is a single sub-question with selectable options.
type Question struct {
	Header      string           `json:"header,omitempty"`
	Question    string           `json:"question"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ValidateAnswers checks a reply against the request shape: one answer slice
// per sub-question, every sub-question answered, single-select sub-questions
// resolved to exactly one label, and every label drawn from the options.
func (q *QuestionRequest) ValidateAnswers(answers [][]string) error {
	if len(answers) != len(q.Questions) {
		return Validationf("expected %d answers, got %d", len(q.Questions), len(answers))
	}
	for i, sel := range answers {
		sub := q.Questions[i]
		if len(sel) == 0 {
			return Validationf("question %d: at least one selection required", i)
		}
		if !sub.MultiSelect && len(sel) != 1 {
			return Validationf("question %d: single-select requires exactly one label", i)
		}
		for _, label := range sel {
			if !sub.hasOption(label) {
				return Validationf("question %d: unknown option %q", i, label)
			}
		}
	}
	return nil
}

func (q Question) hasOption(label string) bool {
	for _, opt := range q.Options {
		if opt.Label == label {
			return true
		}
	}
	return false
}
