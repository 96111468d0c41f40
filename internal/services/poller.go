package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
	"github.com/Lllllllleong/medicaldocumentflow/internal/voice"
)

// CallStatusFetcher looks up the current state of a call.
type CallStatusFetcher interface {
	GetStatus(ctx context.Context, callID string) (voice.CallState, error)
}

type PollerConfig struct {
	Interval time.Duration
	// MaxDuration must equal the hang-up cap configured on the call agent.
	MaxDuration time.Duration
}

type PollResult struct {
	State    voice.CallState
	Polls    int
	TimedOut bool
}

type CallPoller struct {
	fetcher CallStatusFetcher
	config  PollerConfig
	logger  *slog.Logger
}

// finalFetchTimeout bounds the last status fetch made after the loop stops.
const finalFetchTimeout = 10 * time.Second

func NewCallPoller(fetcher CallStatusFetcher, cfg PollerConfig, logger *slog.Logger) *CallPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 3 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CallPoller{fetcher: fetcher, config: cfg, logger: logger}
}

// Wait polls until the call ends or errors, the ceiling passes, or ctx is
// cancelled. After the loop stops on a non-terminal status exactly one more
// fetch is made.
func (p *CallPoller) Wait(ctx context.Context, callID string) PollResult {
	logCtx := p.logger.With("callId", callID)
	result := PollResult{State: voice.CallState{CallID: callID, Status: models.CallRegistered}}

	waitCtx, cancel := context.WithTimeout(ctx, p.config.MaxDuration)
	defer cancel()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-waitCtx.Done():
			break loop
		case <-ticker.C:
			p.fetch(waitCtx, logCtx, callID, &result)
			if result.State.Status.IsTerminal() {
				callPolls.Observe(float64(result.Polls))
				return result
			}
		}
	}

	// The deadline or a host shutdown stopped the loop; the last look at the
	// call must not be cancelled by either.
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), finalFetchTimeout)
	defer finalCancel()
	p.fetch(finalCtx, logCtx, callID, &result)

	result.TimedOut = !result.State.Status.IsTerminal()
	if result.TimedOut {
		logCtx.Warn("Call still live at poll ceiling.", "status", result.State.Status, "polls", result.Polls)
	}
	callPolls.Observe(float64(result.Polls))
	return result
}

func (p *CallPoller) fetch(ctx context.Context, logCtx *slog.Logger, callID string, result *PollResult) {
	result.Polls++
	state, err := p.fetcher.GetStatus(ctx, callID)
	if err != nil {
		logCtx.Warn("Call status fetch failed.", "poll", result.Polls, "error", err)
		return
	}
	result.State = mergeCallState(result.State, state)
	logCtx.Debug("Call status fetched.", "poll", result.Polls, "status", result.State.Status)
}

// mergeCallState folds a fresh observation into prev. Status never moves
// backwards and known fields are not erased by a sparser response.
func mergeCallState(prev, next voice.CallState) voice.CallState {
	merged := prev
	status := prev.Status.Advance(next.Status)
	if status == prev.Status && prev.Status.IsTerminal() {
		return prev
	}
	merged.Status = status
	if next.CallID != "" {
		merged.CallID = next.CallID
	}
	if next.StartTime != nil {
		merged.StartTime = next.StartTime
	}
	if next.EndTime != nil {
		merged.EndTime = next.EndTime
	}
	if next.DurationSeconds > 0 {
		merged.DurationSeconds = next.DurationSeconds
	}
	if next.Transcript != "" {
		merged.Transcript = next.Transcript
	}
	if len(next.TranscriptObject) > 0 {
		merged.TranscriptObject = next.TranscriptObject
	}
	if next.RecordingURL != "" {
		merged.RecordingURL = next.RecordingURL
	}
	if next.DisconnectReason != "" {
		merged.DisconnectReason = next.DisconnectReason
	}
	return merged
}
