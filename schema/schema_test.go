package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name          string
		clientVersion string
		serverSet     []string
		want          string
		wantError     bool
	}{
		{name: "exact match latest", clientVersion: "2025-11-25", want: "2025-11-25"},
		{name: "exact match older", clientVersion: "2024-11-05", want: "2024-11-05"},
		{name: "unsupported", clientVersion: "2023-01-01", wantError: true},
		{name: "restricted server set", clientVersion: "2025-11-25", serverSet: []string{"2024-11-05"}, wantError: true},
	}
	for _, tt := range tests {
		got, err := Negotiate(tt.clientVersion, tt.serverSet)
		if tt.wantError {
			assert.NotNil(t, err, tt.name)
			continue
		}
		assert.Nil(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestCreateMessageResult_Strict(t *testing.T) {
	var result CreateMessageResult
	err := json.Unmarshal([]byte(`{"role":"assistant","content":{"type":"text","text":"hi"},"model":"m1"}`), &result)
	assert.Nil(t, err)
	assert.Equal(t, "m1", result.Model)
	assert.Equal(t, "hi", result.Content.Text)

	err = json.Unmarshal([]byte(`{"role":"assistant","content":{"type":"text","text":"hi"},"model":"m1","extra":true}`), &result)
	assert.NotNil(t, err, "unknown fields must be rejected")
}

func TestElicitResult_Strict(t *testing.T) {
	var result ElicitResult
	err := json.Unmarshal([]byte(`{"action":"accept","content":{"name":"bob"}}`), &result)
	assert.Nil(t, err)
	assert.Equal(t, "accept", result.Action)

	err = json.Unmarshal([]byte(`{"action":"accept","payload":{}}`), &result)
	assert.NotNil(t, err)
}

func TestInitializeParams_RoundTrip(t *testing.T) {
	input := `{"protocolVersion":"2025-11-25","clientInfo":{"name":"t","version":"1"},"capabilities":{"sampling":{}}}`
	var params InitializeParams
	assert.Nil(t, json.Unmarshal([]byte(input), &params))
	assert.Equal(t, "t", params.ClientInfo.Name)
	assert.NotNil(t, params.Capabilities.Sampling)
	assert.Nil(t, params.Capabilities.Roots)
}
