package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"

	"leadpilot/lock"
	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/schedule"
)

const (
	DefaultBatchSize = 50
	DefaultLockTTL   = 2 * time.Minute
)

// Notifier delivers domain events to a user's outgoing webhooks.
type Notifier interface {
	Notify(ctx context.Context, userID uint, event string, data map[string]interface{})
}

// Observer receives live progress of batch passes.
type Observer interface {
	Publish(event ProgressEvent)
}

// Progress event types
const (
	EventLeadProcessed = "lead_processed"
	EventPassCompleted = "pass_completed"
)

type ProgressEvent struct {
	// UserID owns the lead (or the scoped pass); zero for unscoped pass summaries
	UserID     uint        `json:"-"`
	Type       string      `json:"type"`
	LeadID     uint        `json:"lead_id,omitempty"`
	CampaignID uint        `json:"campaign_id,omitempty"`
	Outcome    string      `json:"outcome,omitempty"`
	Step       int         `json:"step,omitempty"`
	Result     *PassResult `json:"result,omitempty"`
}

// Per-lead outcomes
const (
	OutcomeSent      = "sent"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDeferred  = "deferred"
)

// PassResult aggregates one batch pass.
type PassResult struct {
	Processed  int      `json:"processed"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Completed  int      `json:"completed"`
	Skipped    int      `json:"skipped"`
	Deferred   int      `json:"deferred"`
	Errors     []string `json:"errors"`
	DurationMs int64    `json:"duration_ms"`
}

func (r *PassResult) record(leadID uint, outcome string, err error) {
	r.Processed++
	switch outcome {
	case OutcomeSent:
		r.Succeeded++
	case OutcomeCompleted:
		r.Succeeded++
		r.Completed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeDeferred:
		r.Deferred++
	default:
		r.Failed++
		if err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("lead %d: %s", leadID, err.Error()))
		}
	}
}

// Processor runs batch passes: for each eligible lead it personalizes the
// current step, queues an outbound email and advances the lead.
type Processor struct {
	repos    repository.Set
	catalog  *Catalog
	tracker  *Tracker
	locker   lock.Locker
	throttle Throttle
	monitor  *monitoring.Monitor

	Notifier      Notifier
	Observer      Observer
	LockTTL       time.Duration
	MessageDomain string
	Now           func() time.Time
}

func NewProcessor(repos repository.Set, catalog *Catalog, tracker *Tracker, locker lock.Locker, throttle Throttle, monitor *monitoring.Monitor) *Processor {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if throttle == nil {
		throttle = NoThrottle
	}
	return &Processor{
		repos:         repos,
		catalog:       catalog,
		tracker:       tracker,
		locker:        locker,
		throttle:      throttle,
		monitor:       monitor,
		LockTTL:       DefaultLockTTL,
		MessageDomain: "leadpilot.local",
		Now:           tracker.Now,
	}
}

// Run processes up to batchSize eligible leads one at a time. A failed lead is
// counted and the pass moves on; only a failed eligibility query or a
// cancelled context ends the pass early.
func (p *Processor) Run(ctx context.Context, batchSize int) (PassResult, error) {
	return p.run(ctx, 0, batchSize)
}

// RunForUser is Run restricted to leads owned by userID.
func (p *Processor) RunForUser(ctx context.Context, userID uint, batchSize int) (PassResult, error) {
	return p.run(ctx, userID, batchSize)
}

// run covers every user when userID is zero.
func (p *Processor) run(ctx context.Context, userID uint, batchSize int) (PassResult, error) {
	start := time.Now()
	result := PassResult{Errors: []string{}}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var rows []models.LeadSequenceProgress
	var err error
	if userID == 0 {
		rows, err = p.tracker.Eligible(ctx, batchSize)
	} else {
		rows, err = p.tracker.EligibleForUser(ctx, userID, batchSize)
	}
	if err != nil {
		p.monitor.LogError("sequence_eligible_query", err, nil)
		return result, fmt.Errorf("failed to fetch eligible leads: %w", err)
	}

	for _, row := range rows {
		if err := p.throttle.Wait(ctx); err != nil {
			p.finish(&result, userID, start)
			return result, err
		}

		outcome, step, err := p.processLead(ctx, row)
		result.record(row.LeadID, outcome, err)
		p.monitor.Incr("sequence.leads."+outcome, 1)
		switch {
		case outcome == OutcomeFailed:
			p.monitor.LogError("sequence_lead", err, map[string]interface{}{
				"lead_id":     row.LeadID,
				"campaign_id": row.CampaignID,
			})
		case err != nil:
			p.monitor.Logger.WithField("lead_id", row.LeadID).Debugf("lead %s: %v", outcome, err)
		}
		p.publish(ProgressEvent{
			UserID:     row.Lead.UserID,
			Type:       EventLeadProcessed,
			LeadID:     row.LeadID,
			CampaignID: row.CampaignID,
			Outcome:    outcome,
			Step:       step,
		})
	}

	p.finish(&result, userID, start)
	return result, nil
}

func (p *Processor) finish(result *PassResult, userID uint, start time.Time) {
	result.DurationMs = time.Since(start).Milliseconds()
	p.monitor.Incr("sequence.passes", 1)
	p.monitor.LogEvent("sequence_pass_completed", map[string]interface{}{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"completed": result.Completed,
		"skipped":   result.Skipped,
		"deferred":  result.Deferred,
	})
	snapshot := *result
	p.publish(ProgressEvent{UserID: userID, Type: EventPassCompleted, Result: &snapshot})
}

func (p *Processor) publish(event ProgressEvent) {
	if p.Observer != nil {
		p.Observer.Publish(event)
	}
}

// processLead holds the lead's lock across re-check, queue and advance so two
// overlapping passes cannot send the same step twice.
func (p *Processor) processLead(ctx context.Context, row models.LeadSequenceProgress) (string, int, error) {
	held, err := p.locker.Obtain(ctx, lock.LeadKey(row.LeadID), p.LockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return OutcomeSkipped, row.CurrentStep, ErrLeadLocked
	}
	if err != nil {
		return OutcomeFailed, row.CurrentStep, fmt.Errorf("failed to lock lead: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			p.monitor.LogError("lead_lock_release", err, map[string]interface{}{"lead_id": row.LeadID})
		}
	}()

	now := p.Now()

	// Re-read under the lock; a reply or another pass may have moved the lead
	progress, err := p.tracker.Progress(ctx, row.LeadID)
	if err != nil {
		return OutcomeFailed, row.CurrentStep, err
	}
	lead, err := p.repos.Leads.FindByID(ctx, row.LeadID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeFailed, progress.CurrentStep, ErrLeadNotFound
	}
	if err != nil {
		return OutcomeFailed, progress.CurrentStep, fmt.Errorf("failed to load lead: %w", err)
	}
	if lead.HasReplied || !progress.DueAt(now) {
		return OutcomeSkipped, progress.CurrentStep, nil
	}

	campaign, err := p.repos.Campaigns.FindByID(ctx, progress.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeFailed, progress.CurrentStep, ErrCampaignNotFound
	}
	if err != nil {
		return OutcomeFailed, progress.CurrentStep, fmt.Errorf("failed to load campaign: %w", err)
	}

	if campaign.HasSendingWindow() {
		window := schedule.SendingWindow{
			StartHour:        campaign.SendStartHour,
			EndHour:          campaign.SendEndHour,
			BusinessDaysOnly: campaign.BusinessDaysOnly,
		}
		tz := campaign.Timezone
		if tz == "" {
			tz = schedule.DetectTimezone(lead.Address)
		}
		if !schedule.IsWithinSendingWindow(window, tz, now) {
			next := schedule.NextSendTime(window, tz, now)
			progress.NextSendDate = &next
			if err := p.repos.Progress.Save(ctx, progress); err != nil {
				return OutcomeFailed, progress.CurrentStep, fmt.Errorf("failed to reschedule lead: %w", err)
			}
			return OutcomeDeferred, progress.CurrentStep, nil
		}
	}

	step, err := p.catalog.ActiveStep(ctx, campaign.ID, progress.CurrentStep)
	if err != nil {
		return OutcomeFailed, progress.CurrentStep, fmt.Errorf("failed to load step: %w", err)
	}
	if step == nil {
		return OutcomeFailed, progress.CurrentStep, fmt.Errorf("step %d: %w", progress.CurrentStep, ErrStepNotFound)
	}

	if err := checkmail.ValidateFormat(lead.Email); err != nil {
		return OutcomeFailed, step.StepNumber, fmt.Errorf("invalid email %q: %w", lead.Email, err)
	}

	email := &models.Email{
		LeadID:         lead.ID,
		CampaignID:     campaign.ID,
		SequenceStepID: &step.ID,
		StepNumber:     step.StepNumber,
		ToEmail:        lead.Email,
		Subject:        Personalize(step.Subject, lead),
		Body:           Personalize(step.Body, lead),
		Status:         models.EmailStatusQueued,
		MessageID:      fmt.Sprintf("<%s@%s>", uuid.NewString(), p.MessageDomain),
	}
	if err := p.repos.Emails.Create(ctx, email); err != nil {
		return OutcomeFailed, step.StepNumber, fmt.Errorf("failed to queue email: %w", err)
	}

	advance, err := p.tracker.Advance(ctx, lead.ID)
	if err != nil {
		return OutcomeFailed, step.StepNumber, err
	}

	if err := p.repos.Campaigns.IncrementCounter(ctx, campaign.ID, repository.CounterEmailsQueued, 1); err != nil {
		p.monitor.LogError("campaign_counter", err, map[string]interface{}{"campaign_id": campaign.ID})
	}

	p.notify(ctx, campaign.UserID, models.WebhookEventEmailQueued, map[string]interface{}{
		"lead_id":     lead.ID,
		"campaign_id": campaign.ID,
		"email_id":    email.ID,
		"step_number": step.StepNumber,
	})

	if !advance.Completed {
		return OutcomeSent, step.StepNumber, nil
	}

	if err := p.repos.Analytics.Record(ctx, &models.AnalyticsEvent{
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		EmailID:    &email.ID,
		EventType:  "sequence_completed",
		Metadata:   map[string]interface{}{"last_step": step.StepNumber},
		OccurredAt: now,
	}); err != nil {
		p.monitor.LogError("analytics_record", err, map[string]interface{}{"lead_id": lead.ID})
	}
	p.notify(ctx, campaign.UserID, models.WebhookEventSequenceCompleted, map[string]interface{}{
		"lead_id":     lead.ID,
		"campaign_id": campaign.ID,
		"last_step":   step.StepNumber,
	})
	return OutcomeCompleted, step.StepNumber, nil
}

func (p *Processor) notify(ctx context.Context, userID uint, event string, data map[string]interface{}) {
	if p.Notifier != nil {
		p.Notifier.Notify(ctx, userID, event, data)
	}
}
