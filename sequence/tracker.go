package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/utils"
)

// ResumeDelay is how long a resumed lead waits before its next send.
const ResumeDelay = 24 * time.Hour

// AdvanceResult describes where a lead ended up after Advance.
type AdvanceResult struct {
	Completed    bool       `json:"completed"`
	CurrentStep  int        `json:"current_step"`
	NextSendDate *time.Time `json:"next_send_date"`
}

// Tracker runs the per-lead progress state machine:
// not started -> active(step k) -> active(step k+1) ... -> completed,
// with pause/resume available while active.
type Tracker struct {
	steps    repository.SequenceStepRepository
	progress repository.ProgressRepository
	monitor  *monitoring.Monitor

	Now func() time.Time
}

func NewTracker(steps repository.SequenceStepRepository, progress repository.ProgressRepository, monitor *monitoring.Monitor) *Tracker {
	return &Tracker{steps: steps, progress: progress, monitor: monitor, Now: time.Now}
}

func daysFrom(t time.Time, days int) *time.Time {
	return utils.Pointer(t.AddDate(0, 0, days))
}

// Initialize starts the lead at step 1. It reports created=false and the
// existing row when the lead already has progress.
func (t *Tracker) Initialize(ctx context.Context, leadID, campaignID uint) (*models.LeadSequenceProgress, bool, error) {
	existing, err := t.progress.FindByLead(ctx, leadID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load progress: %w", err)
	}

	first, err := t.steps.FindActive(ctx, campaignID, 1)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, ErrNoActiveSteps
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load first step: %w", err)
	}

	p := &models.LeadSequenceProgress{
		LeadID:       leadID,
		CampaignID:   campaignID,
		CurrentStep:  1,
		NextSendDate: daysFrom(t.Now(), first.DelayDays),
	}
	if err := t.progress.Create(ctx, p); err != nil {
		// Lost a race with a concurrent initializer
		if existing, findErr := t.progress.FindByLead(ctx, leadID); findErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create progress: %w", err)
	}

	t.monitor.LogEvent("sequence_initialized", map[string]interface{}{
		"lead_id":     leadID,
		"campaign_id": campaignID,
	})
	return p, true, nil
}

// Progress returns the lead's progress row.
func (t *Tracker) Progress(ctx context.Context, leadID uint) (*models.LeadSequenceProgress, error) {
	p, err := t.progress.FindByLead(ctx, leadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProgressNotFound
	}
	return p, err
}

// Advance moves the lead past its current step, completing the sequence when
// no active step follows. Advancing a completed lead is a no-op.
func (t *Tracker) Advance(ctx context.Context, leadID uint) (AdvanceResult, error) {
	p, err := t.Progress(ctx, leadID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if p.IsCompleted() {
		return AdvanceResult{Completed: true, CurrentStep: p.CurrentStep}, nil
	}

	now := t.Now()
	next, err := t.steps.FindActive(ctx, p.CampaignID, p.CurrentStep+1)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return AdvanceResult{}, fmt.Errorf("failed to load next step: %w", err)
	}

	p.LastSentAt = &now
	if next == nil {
		p.CompletedAt = &now
		p.NextSendDate = nil
	} else {
		p.CurrentStep = next.StepNumber
		p.NextSendDate = daysFrom(now, next.DelayDays)
	}

	if err := t.progress.Save(ctx, p); err != nil {
		return AdvanceResult{}, fmt.Errorf("failed to save progress: %w", err)
	}
	return AdvanceResult{
		Completed:    p.IsCompleted(),
		CurrentStep:  p.CurrentStep,
		NextSendDate: p.NextSendDate,
	}, nil
}

// Pause stops sends for the lead. Pausing a paused lead changes nothing,
// including its reason.
func (t *Tracker) Pause(ctx context.Context, leadID uint, reason string) (bool, error) {
	p, err := t.Progress(ctx, leadID)
	if err != nil {
		return false, err
	}
	if p.IsPaused {
		return false, nil
	}

	p.IsPaused = true
	p.PauseReason = &reason
	p.PausedAt = utils.Pointer(t.Now())
	if err := t.progress.Save(ctx, p); err != nil {
		return false, fmt.Errorf("failed to pause sequence: %w", err)
	}

	t.monitor.LogEvent("sequence_paused", map[string]interface{}{
		"lead_id": leadID,
		"reason":  reason,
	})
	return true, nil
}

// Resume re-enables sends and schedules the next one ResumeDelay from now.
func (t *Tracker) Resume(ctx context.Context, leadID uint) (bool, error) {
	p, err := t.Progress(ctx, leadID)
	if err != nil {
		return false, err
	}
	if !p.IsPaused {
		return false, nil
	}

	p.IsPaused = false
	p.PauseReason = nil
	p.PausedAt = nil
	p.NextSendDate = utils.Pointer(t.Now().Add(ResumeDelay))
	if err := t.progress.Save(ctx, p); err != nil {
		return false, fmt.Errorf("failed to resume sequence: %w", err)
	}

	t.monitor.LogEvent("sequence_resumed", map[string]interface{}{"lead_id": leadID})
	return true, nil
}

// Eligible returns progress rows ready to send now.
func (t *Tracker) Eligible(ctx context.Context, limit int) ([]models.LeadSequenceProgress, error) {
	return t.progress.ListEligible(ctx, t.Now(), nil, limit)
}

// EligibleForUser is Eligible limited to leads owned by userID.
func (t *Tracker) EligibleForUser(ctx context.Context, userID uint, limit int) ([]models.LeadSequenceProgress, error) {
	return t.progress.ListEligible(ctx, t.Now(), &userID, limit)
}
