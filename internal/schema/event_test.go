package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDataKind(t *testing.T) {
	tests := []struct {
		name string
		data EventData
		want EventKind
	}{
		{"message", EventData{Message: TextMessage("assistant", "hi")}, KindMessage},
		{"started", EventData{Started: &Started{}}, KindStarted},
		{"error", EventData{Error: &ErrorData{Message: "boom"}}, KindError},
		{"question", EventData{QuestionAsked: &QuestionRequest{ID: "q"}}, KindQuestionAsked},
		{"permission", EventData{PermissionAsked: &PermissionRequest{ID: "p"}}, KindPermissionAsked},
		{"empty", EventData{}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.Kind())
		})
	}
}

func TestEventDataValid(t *testing.T) {
	assert.False(t, EventData{}.Valid())
	assert.True(t, EventData{Started: &Started{}}.Valid())
	assert.False(t, EventData{
		Started: &Started{},
		Error:   &ErrorData{Message: "boom"},
	}.Valid(), "two variants at once is malformed")
}

func TestEventJSONHasSingleDataKey(t *testing.T) {
	ev := Event{
		ID:        7,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Agent:     "claude",
		Data:      EventData{Message: TextMessage("assistant", "hello")},
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded struct {
		ID   uint64                     `json:"id"`
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, uint64(7), decoded.ID)
	require.Len(t, decoded.Data, 1)
	assert.Contains(t, decoded.Data, "message")
}

func TestMessageText(t *testing.T) {
	m := &Message{
		Role: "assistant",
		Parts: []MessagePart{
			{Type: "text", Text: "one "},
			{Type: "tool_use", Name: "bash"},
			{Type: "text", Text: "two"},
		},
	}
	assert.Equal(t, "one two", m.Text())
}

func TestValidDecision(t *testing.T) {
	assert.True(t, ValidDecision(DecisionOnce))
	assert.True(t, ValidDecision(DecisionAlways))
	assert.True(t, ValidDecision(DecisionReject))
	assert.False(t, ValidDecision("approve"))
	assert.False(t, ValidDecision(""))
}

func TestValidateAnswers(t *testing.T) {
	req := &QuestionRequest{
		ID: "q1",
		Questions: []Question{
			{
				Question: "pick one",
				Options:  []QuestionOption{{Label: "red"}, {Label: "blue"}},
			},
			{
				Question:    "pick any",
				Options:     []QuestionOption{{Label: "a"}, {Label: "b"}, {Label: "c"}},
				MultiSelect: true,
			},
		},
	}

	tests := []struct {
		name    string
		answers [][]string
		wantErr bool
	}{
		{"valid", [][]string{{"red"}, {"a", "c"}}, false},
		{"single selection on multi", [][]string{{"blue"}, {"b"}}, false},
		{"missing answer", [][]string{{"red"}}, true},
		{"extra answer", [][]string{{"red"}, {"a"}, {"a"}}, true},
		{"empty selection", [][]string{{"red"}, {}}, true},
		{"two labels on single-select", [][]string{{"red", "blue"}, {"a"}}, true},
		{"unknown label", [][]string{{"green"}, {"a"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := req.ValidateAnswers(tt.answers)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ErrValidation, KindOf(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}
