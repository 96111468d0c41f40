package voice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakePlatform struct {
	mu       sync.Mutex
	requests []recordedRequest
	failPath string
	call     map[string]any
}

func (p *fakePlatform) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		if r.Body != nil && r.Method != http.MethodGet {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		p.mu.Lock()
		p.requests = append(p.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		p.mu.Unlock()

		if p.failPath != "" && r.URL.Path == p.failPath {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v2/create-phone-call":
			_ = json.NewEncoder(w).Encode(map[string]any{"call_id": "call-123", "call_status": "registered"})
		case strings.HasPrefix(r.URL.Path, "/v2/get-call/"):
			if p.call == nil {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(p.call)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
}

func (p *fakePlatform) paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

func newTestClient(t *testing.T, p *fakePlatform) *Client {
	t.Helper()
	srv := httptest.NewServer(p.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		AgentID:         "agent-1",
		LLMID:           "llm-1",
		FromNumber:      "+15550001111",
		VoiceID:         "11labs-Adrian",
		MaxCallDuration: 3 * time.Minute,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestInitiateConfiguresAgentThenCreatesCall(t *testing.T) {
	p := &fakePlatform{}
	c := newTestClient(t, p)

	handle, err := c.Initiate(t.Context(), CallRequest{
		PatientName:  "Bob Smith",
		Phone:        "+10000000000",
		DocumentType: models.DocPrescription,
		RecordID:     "rec-1",
		Extracted:    &models.ExtractedData{Text: "Amoxicillin 500mg\nTwice daily"},
	})
	require.NoError(t, err)
	assert.Equal(t, "call-123", handle.CallID)
	assert.Equal(t, models.CallRegistered, handle.Status)

	assert.Equal(t, []string{
		"PATCH /update-agent/agent-1",
		"PATCH /update-retell-llm/llm-1",
		"PATCH /update-agent/agent-1",
		"POST /v2/create-phone-call",
	}, p.paths())

	assert.Equal(t, "11labs-Adrian", p.requests[0].Body["voice_id"])
	assert.Contains(t, p.requests[1].Body["general_prompt"], "Bob Smith")
	assert.Equal(t, float64(180000), p.requests[2].Body["max_call_duration_ms"])
	assert.Equal(t, "+10000000000", p.requests[3].Body["to_number"])
	meta, ok := p.requests[3].Body["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rec-1", meta["recordId"])
}

func TestInitiateAbortsWhenConfigurationFails(t *testing.T) {
	for _, failPath := range []string{"/update-agent/agent-1", "/update-retell-llm/llm-1"} {
		t.Run(failPath, func(t *testing.T) {
			p := &fakePlatform{failPath: failPath}
			c := newTestClient(t, p)

			_, err := c.Initiate(t.Context(), CallRequest{Phone: "+10000000000", RecordID: "rec-1"})
			require.ErrorIs(t, err, common.ErrUpstreamFatal)
			for _, path := range p.paths() {
				assert.NotEqual(t, "POST /v2/create-phone-call", path)
			}
		})
	}
}

func TestInitiateRequiresPhone(t *testing.T) {
	p := &fakePlatform{}
	c := newTestClient(t, p)

	_, err := c.Initiate(t.Context(), CallRequest{PatientName: "Bob"})
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Empty(t, p.paths())
}

func TestGetStatusEnded(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := &fakePlatform{call: map[string]any{
		"call_id":         "call-123",
		"call_status":     "ended",
		"start_timestamp": start.UnixMilli(),
		"end_timestamp":   start.Add(95 * time.Second).UnixMilli(),
		"transcript":      "Agent: Is this Bob?\nUser: My name is actually Robert.",
		"transcript_object": []map[string]string{
			{"role": "agent", "content": "Is this Bob?"},
			{"role": "user", "content": "My name is actually Robert."},
		},
		"recording_url": "https://recordings.example/call-123.wav",
	}}
	c := newTestClient(t, p)

	state, err := c.GetStatus(t.Context(), "call-123")
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, state.Status)
	assert.Equal(t, 95, state.DurationSeconds)
	assert.Len(t, state.TranscriptObject, 2)
	assert.Contains(t, state.Transcript, "Robert")
	assert.Equal(t, "https://recordings.example/call-123.wav", state.RecordingURL)
}

func TestGetStatusOngoingHasNoTranscript(t *testing.T) {
	p := &fakePlatform{call: map[string]any{
		"call_status": "ongoing",
		"transcript":  "partial",
	}}
	c := newTestClient(t, p)

	state, err := c.GetStatus(t.Context(), "call-123")
	require.NoError(t, err)
	assert.Equal(t, models.CallOngoing, state.Status)
	assert.Empty(t, state.Transcript)
}

func TestGetStatusNotConnectedIsError(t *testing.T) {
	p := &fakePlatform{call: map[string]any{"call_status": "not_connected"}}
	c := newTestClient(t, p)

	state, err := c.GetStatus(t.Context(), "call-123")
	require.NoError(t, err)
	assert.Equal(t, models.CallError, state.Status)
	assert.Empty(t, state.Transcript)
}

func TestGetStatusUnknownCall(t *testing.T) {
	c := newTestClient(t, &fakePlatform{})
	_, err := c.GetStatus(t.Context(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+10000000000", "+10000000000", true},
		{"(555) 123-4567", "+15551234567", true},
		{"+44 20 7946 0958", "+442079460958", true},
		{"12", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, common.ErrInvalidInput, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestBuildScript(t *testing.T) {
	script := BuildScript(CallRequest{
		PatientName:  "Jane Doe",
		Phone:        "+15551234567",
		DocumentType: models.DocLabReport,
		Structured: map[string]any{
			"diagnosis":   []any{"Type 2 diabetes"},
			"medications": []any{map[string]any{"name": "Metformin", "dosage": "500mg", "frequency": "twice daily"}},
		},
	})
	assert.Contains(t, script, "lab results")
	assert.Contains(t, script, "Jane Doe")
	assert.Contains(t, script, "+15551234567")
	assert.Contains(t, script, "Diagnosis: Type 2 diabetes")
	assert.Contains(t, script, "Medication: Metformin 500mg twice daily")

	fallback := BuildScript(CallRequest{Extracted: &models.ExtractedData{Text: "\nLine one\nLine two\n"}})
	assert.Contains(t, fallback, "the patient")
	assert.Contains(t, fallback, "- Line one")
}
