package schema

import (
	"github.com/invopop/jsonschema"
)

// WireSchemas generates JSON Schemas for the universal wire types, keyed by
// type name. Clients use these to validate payloads without a Go dependency.
func WireSchemas() map[string]*jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}
	return map[string]*jsonschema.Schema{
		"Event":               r.Reflect(&Event{}),
		"SessionInfo":         r.Reflect(&SessionInfo{}),
		"CreateSessionParams": r.Reflect(&CreateSessionParams{}),
		"AgentInfo":           r.Reflect(&AgentInfo{}),
		"AgentModeInfo":       r.Reflect(&AgentModeInfo{}),
		"EventPage":           r.Reflect(&EventPage{}),
		"PendingRequests":     r.Reflect(&PendingRequests{}),
	}
}
