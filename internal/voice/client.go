// Package voice talks to the outbound call platform that places patient
// verification calls.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

type Config struct {
	BaseURL    string
	APIKey     string
	AgentID    string
	LLMID      string
	FromNumber string
	VoiceID    string
	// MaxCallDuration is pushed to the agent as its forced hang-up time. The
	// poller must use the same value as its ceiling.
	MaxCallDuration time.Duration
	HTTPTimeout     time.Duration
}

// CallRequest carries everything the script builder needs.
type CallRequest struct {
	PatientName  string
	Phone        string
	DocumentType models.DocumentType
	RecordID     string
	Extracted    *models.ExtractedData
	Structured   map[string]any
}

// CallHandle is returned once the platform has accepted a call.
type CallHandle struct {
	CallID    string
	Status    models.CallStatus
	StartTime time.Time
}

// CallState is a point-in-time view of a call. Transcript fields are only
// set once the call is ended or errored.
type CallState struct {
	CallID           string
	Status           models.CallStatus
	StartTime        *time.Time
	EndTime          *time.Time
	DurationSeconds  int
	Transcript       string
	TranscriptObject []models.TranscriptTurn
	RecordingURL     string
	DisconnectReason string
}

type Client struct {
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.AgentID == "" || cfg.LLMID == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("voice client requires api key, agent id, llm id and from number")
	}
	if cfg.MaxCallDuration <= 0 {
		return nil, fmt.Errorf("voice client requires a positive max call duration")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.retellai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		config:     cfg,
		logger:     logger.With("component", "voice"),
	}, nil
}

type createCallRequest struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	OverrideAgentID  string            `json:"override_agent_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type callResponse struct {
	CallID           string `json:"call_id"`
	CallStatus       string `json:"call_status"`
	StartTimestamp   int64  `json:"start_timestamp"`
	EndTimestamp     int64  `json:"end_timestamp"`
	Transcript       string `json:"transcript"`
	TranscriptObject []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"transcript_object"`
	RecordingURL        string `json:"recording_url"`
	DisconnectionReason string `json:"disconnection_reason"`
}

// Initiate configures the agent and starts the call. The three agent writes
// must all succeed before the create-call request is sent.
func (c *Client) Initiate(ctx context.Context, req CallRequest) (CallHandle, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return CallHandle{}, fmt.Errorf("patient phone is required: %w", common.ErrInvalidInput)
	}
	toNumber, err := NormalizePhone(req.Phone)
	if err != nil {
		return CallHandle{}, err
	}
	logCtx := c.logger.With("recordId", req.RecordID)

	agentPath := "/update-agent/" + url.PathEscape(c.config.AgentID)
	configure := []struct {
		step string
		path string
		body map[string]any
	}{
		{"voice", agentPath, map[string]any{"voice_id": c.config.VoiceID}},
		{"prompt", "/update-retell-llm/" + url.PathEscape(c.config.LLMID), map[string]any{"general_prompt": BuildScript(req)}},
		{"duration cap", agentPath, map[string]any{"max_call_duration_ms": c.config.MaxCallDuration.Milliseconds()}},
	}
	for _, w := range configure {
		if _, status, err := sendJSON(ctx, c.httpClient, http.MethodPatch, c.config.BaseURL+w.path, w.body, c.headers(), logCtx); err != nil {
			logCtx.Error("Failed to configure call agent.", "step", w.step, "status", status, "error", err)
			return CallHandle{}, common.NewAppError("CALL_CONFIG", "failed to configure agent "+w.step, fmt.Errorf("%w: %v", common.ErrUpstreamFatal, err))
		}
	}

	body := createCallRequest{
		FromNumber:      c.config.FromNumber,
		ToNumber:        toNumber,
		OverrideAgentID: c.config.AgentID,
		Metadata: map[string]string{
			"recordId":     req.RecordID,
			"documentType": string(req.DocumentType),
		},
		DynamicVariables: map[string]string{
			"patient_name":  req.PatientName,
			"document_type": req.DocumentType.Label(),
		},
	}
	raw, status, err := sendJSON(ctx, c.httpClient, http.MethodPost, c.config.BaseURL+"/v2/create-phone-call", body, c.headers(), logCtx)
	if err != nil {
		logCtx.Error("Failed to create phone call.", "status", status, "error", err)
		return CallHandle{}, common.NewAppError("CALL_CREATE", "failed to create phone call", fmt.Errorf("%w: %v", common.ErrUpstreamFatal, err))
	}

	var created callResponse
	if err := json.Unmarshal(raw, &created); err != nil || created.CallID == "" {
		return CallHandle{}, common.NewAppError("CALL_CREATE", "create phone call returned no call id", common.ErrUpstreamFatal)
	}

	logCtx.Info("Verification call registered.", "callId", created.CallID)
	return CallHandle{
		CallID:    created.CallID,
		Status:    models.CallRegistered,
		StartTime: time.Now().UTC(),
	}, nil
}

// GetStatus fetches the current state of a call.
func (c *Client) GetStatus(ctx context.Context, callID string) (CallState, error) {
	if callID == "" {
		return CallState{}, fmt.Errorf("call id is required: %w", common.ErrInvalidInput)
	}
	raw, status, err := sendJSON(ctx, c.httpClient, http.MethodGet, c.config.BaseURL+"/v2/get-call/"+url.PathEscape(callID), nil, c.headers(), c.logger)
	if err != nil {
		if status == http.StatusNotFound {
			return CallState{}, fmt.Errorf("call %s: %w", callID, common.ErrNotFound)
		}
		return CallState{}, fmt.Errorf("failed to get call %s: %w", callID, err)
	}

	var resp callResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CallState{}, fmt.Errorf("failed to decode call %s: %w", callID, err)
	}
	return resp.toState(callID), nil
}

func (r callResponse) toState(callID string) CallState {
	state := CallState{
		CallID:           callID,
		Status:           models.ParseCallStatus(r.CallStatus),
		StartTime:        fromMillis(r.StartTimestamp),
		EndTime:          fromMillis(r.EndTimestamp),
		DisconnectReason: r.DisconnectionReason,
	}
	if state.StartTime != nil && state.EndTime != nil {
		state.DurationSeconds = int(state.EndTime.Sub(*state.StartTime).Seconds())
	}
	if !state.Status.IsTerminal() {
		return state
	}
	state.Transcript = r.Transcript
	state.RecordingURL = r.RecordingURL
	for _, turn := range r.TranscriptObject {
		state.TranscriptObject = append(state.TranscriptObject, models.TranscriptTurn{Role: turn.Role, Content: turn.Content})
	}
	return state
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.config.APIKey}
}

func fromMillis(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// NormalizePhone reduces a phone string to "+" followed by digits. Ten digit
// numbers are assumed to be North American.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 8 || len(d) > 15 {
		return "", fmt.Errorf("phone %q is not a dialable number: %w", raw, common.ErrInvalidInput)
	}
	if len(d) == 10 && !strings.HasPrefix(strings.TrimSpace(raw), "+") {
		d = "1" + d
	}
	return "+" + d, nil
}
