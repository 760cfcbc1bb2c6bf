package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SamplingMessage is a single message of a sampling conversation.
type SamplingMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// ModelPreferences expresses the server's model selection hints.
type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	CostPriority         *float64    `json:"costPriority,omitempty"`
	SpeedPriority        *float64    `json:"speedPriority,omitempty"`
	IntelligencePriority *float64    `json:"intelligencePriority,omitempty"`
}

// ModelHint names a preferred model.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// CreateMessageParams is the payload of a sampling/createMessage request.
type CreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
}

// CreateMessageResult is the payload of a sampling/createMessage response.
// Unknown fields are rejected so that partially typed client payloads fail
// loudly instead of being forwarded silently.
type CreateMessageResult struct {
	Role       Role    `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model"`
	StopReason string  `json:"stopReason,omitempty"`
}

// UnmarshalJSON is a custom JSON unmarshaler rejecting unknown fields.
func (r *CreateMessageResult) UnmarshalJSON(data []byte) error {
	type alias CreateMessageResult
	return strictUnmarshal(data, (*alias)(r))
}

// ElicitParams is the payload of an elicitation/create request.
type ElicitParams struct {
	Message string `json:"message"`
	// RequestedSchema restricts the shape of the elicited content.
	RequestedSchema json.RawMessage `json:"requestedSchema,omitempty"`
}

// ElicitResult is the payload of an elicitation/create response.
type ElicitResult struct {
	// Action is one of "accept", "decline" or "cancel".
	Action  string          `json:"action"`
	Content json.RawMessage `json:"content,omitempty"`
}

// UnmarshalJSON is a custom JSON unmarshaler rejecting unknown fields.
func (r *ElicitResult) UnmarshalJSON(data []byte) error {
	type alias ElicitResult
	return strictUnmarshal(data, (*alias)(r))
}

// Root is a filesystem root exposed by the client.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ListRootsResult is the payload of a roots/list response.
type ListRootsResult struct {
	Roots []Root `json:"roots"`
}

func strictUnmarshal(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("strict decode: %w", err)
	}
	return nil
}
