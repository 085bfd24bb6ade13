package schema

import "time"

// PermissionMode controls how the agent handles tool authorization.
type PermissionMode string

const (
	PermissionModeDefault PermissionMode = "default"
	PermissionModePlan    PermissionMode = "plan"
	PermissionModeBypass  PermissionMode = "bypass"
)

// ValidPermissionMode reports whether m is a known mode. The empty string is
// accepted and treated as default.
func ValidPermissionMode(m PermissionMode) bool {
	switch m {
	case "", PermissionModeDefault, PermissionModePlan, PermissionModeBypass:
		return true
	}
	return false
}

// SessionInfo is the client-visible view of a session.
type SessionInfo struct {
	ID             string         `json:"id"`
	Agent          string         `json:"agent"`
	AgentMode      string         `json:"agentMode,omitempty"`
	PermissionMode PermissionMode `json:"permissionMode"`
	Model          string         `json:"model,omitempty"`
	Variant        string         `json:"variant,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	EventCount     uint64         `json:"eventCount"`
	Ended          bool           `json:"ended"`
}

// CreateSessionParams is the body of POST /v1/sessions/{id}.
type CreateSessionParams struct {
	Agent          string         `json:"agent"`
	AgentMode      string         `json:"agentMode,omitempty"`
	PermissionMode PermissionMode `json:"permissionMode,omitempty"`
	Model          string         `json:"model,omitempty"`
	Variant        string         `json:"variant,omitempty"`
}

// AgentInfo describes an agent family available on this host.
type AgentInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
}

// AgentModeInfo describes one mode an agent can run in.
type AgentModeInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventPage is the poll-read response: events after the requested offset and
// the offset to resume from.
type EventPage struct {
	Events     []Event `json:"events"`
	NextOffset uint64  `json:"nextOffset"`
}

// PendingRequests is the live projection of unresolved approvals for a
// session.
type PendingRequests struct {
	Permissions []PermissionRequest `json:"permissions"`
	Questions   []QuestionRequest   `json:"questions"`
}
