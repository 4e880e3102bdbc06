// Package reply turns inbound replies into lead and sequence state changes.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/sequence"
)

// PauseReason is recorded on the progress row of a lead that replied.
const PauseReason = "Lead replied to email"

var ErrEmailNotFound = errors.New("email not found")

// Event is a normalized inbound reply.
type Event struct {
	EmailID    uint      `json:"email_id"`
	LeadID     uint      `json:"lead_id"`
	CampaignID uint      `json:"campaign_id"`
	ReplyText  string    `json:"reply_text"`
	Timestamp  time.Time `json:"timestamp"`
	Sentiment  string    `json:"sentiment"`
}

// Outcome reports what HandleReply changed.
type Outcome struct {
	EmailID    uint     `json:"email_id"`
	LeadID     uint     `json:"lead_id"`
	CampaignID uint     `json:"campaign_id"`
	Sentiment  string   `json:"sentiment"`
	Paused     bool     `json:"paused"`
	Duplicate  bool     `json:"duplicate"`
	Errors     []string `json:"errors"`
}

type Detector struct {
	leads     repository.LeadRepository
	emails    repository.EmailRepository
	campaigns repository.CampaignRepository
	analytics repository.AnalyticsRepository
	tracker   *sequence.Tracker
	monitor   *monitoring.Monitor

	Notifier sequence.Notifier
	Now      func() time.Time
}

func NewDetector(repos repository.Set, tracker *sequence.Tracker, monitor *monitoring.Monitor) *Detector {
	return &Detector{
		leads:     repos.Leads,
		emails:    repos.Emails,
		campaigns: repos.Campaigns,
		analytics: repos.Analytics,
		tracker:   tracker,
		monitor:   monitor,
		Now:       time.Now,
	}
}

// HandleReply applies a reply. Every side effect is attempted even when an
// earlier one fails; the failures are joined into the returned error. The
// reply counter, analytics row and webhook fire only the first time an email
// is marked replied.
func (d *Detector) HandleReply(ctx context.Context, ev Event) (Outcome, error) {
	if ev.EmailID == 0 {
		return Outcome{}, fmt.Errorf("%w: email_id is required", ErrEmailNotFound)
	}
	email, err := d.emails.FindByID(ctx, ev.EmailID)
	if errors.Is(err, repository.ErrNotFound) {
		return Outcome{}, ErrEmailNotFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load email: %w", err)
	}
	if ev.LeadID == 0 {
		ev.LeadID = email.LeadID
	}
	if ev.CampaignID == 0 {
		ev.CampaignID = email.CampaignID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.Now()
	}
	if ev.Sentiment == "" {
		ev.Sentiment = ClassifySentiment(ev.ReplyText)
	}

	out := Outcome{
		EmailID:    ev.EmailID,
		LeadID:     ev.LeadID,
		CampaignID: ev.CampaignID,
		Sentiment:  ev.Sentiment,
		Errors:     []string{},
	}
	var errs []error
	fail := func(step string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", step, err))
		out.Errors = append(out.Errors, step+": "+err.Error())
		d.monitor.LogError("reply_"+step, err, map[string]interface{}{
			"email_id": ev.EmailID,
			"lead_id":  ev.LeadID,
		})
	}

	if err := d.leads.MarkReplied(ctx, ev.LeadID, ev.Timestamp); err != nil {
		fail("mark_lead", err)
	}

	paused, err := d.tracker.Pause(ctx, ev.LeadID, PauseReason)
	switch {
	case errors.Is(err, sequence.ErrProgressNotFound):
		// lead never entered a sequence
	case err != nil:
		fail("pause_sequence", err)
	}
	out.Paused = paused

	first, err := d.emails.MarkReplied(ctx, ev.EmailID, ev.ReplyText, ev.Sentiment, ev.Timestamp)
	if err != nil {
		fail("mark_email", err)
	}
	out.Duplicate = err == nil && !first

	if first {
		if err := d.analytics.Record(ctx, &models.AnalyticsEvent{
			CampaignID: ev.CampaignID,
			LeadID:     ev.LeadID,
			EmailID:    &ev.EmailID,
			EventType:  "email_replied",
			Metadata: map[string]interface{}{
				"sentiment":  ev.Sentiment,
				"reply_text": preview(ev.ReplyText, 500),
			},
			OccurredAt: ev.Timestamp,
		}); err != nil {
			fail("record_analytics", err)
		}

		if err := d.campaigns.IncrementCounter(ctx, ev.CampaignID, repository.CounterEmailsReplied, 1); err != nil {
			fail("increment_replies", err)
		}

		d.notify(ctx, ev)
		d.monitor.Incr("replies.handled", 1)
		d.monitor.Incr("replies."+ev.Sentiment, 1)
	}

	d.monitor.LogEvent("reply_detected", map[string]interface{}{
		"email_id":  ev.EmailID,
		"lead_id":   ev.LeadID,
		"sentiment": ev.Sentiment,
		"duplicate": out.Duplicate,
	})
	return out, errors.Join(errs...)
}

func (d *Detector) notify(ctx context.Context, ev Event) {
	if d.Notifier == nil {
		return
	}
	campaign, err := d.campaigns.FindByID(ctx, ev.CampaignID)
	if err != nil {
		d.monitor.LogError("reply_notify", err, map[string]interface{}{"campaign_id": ev.CampaignID})
		return
	}
	d.Notifier.Notify(ctx, campaign.UserID, models.WebhookEventLeadReplied, map[string]interface{}{
		"lead_id":     ev.LeadID,
		"campaign_id": ev.CampaignID,
		"email_id":    ev.EmailID,
		"sentiment":   ev.Sentiment,
		"reply_text":  preview(ev.ReplyText, 500),
		"replied_at":  ev.Timestamp,
	})
}

// MatchEmail finds the sent email a reply refers to. Message ids are tried with
// and without angle brackets against both our own and the provider's id, then
// the thread id.
func (d *Detector) MatchEmail(ctx context.Context, messageIDs []string, threadID string) (*models.Email, error) {
	for _, id := range messageIDs {
		bare := strings.Trim(strings.TrimSpace(id), "<>")
		if bare == "" {
			continue
		}
		for _, candidate := range []string{bare, "<" + bare + ">"} {
			if email, err := d.emails.FindByProviderMessageID(ctx, candidate); err == nil {
				return email, nil
			} else if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			if email, err := d.emails.FindByMessageID(ctx, candidate); err == nil {
				return email, nil
			} else if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		}
	}
	if threadID != "" {
		email, err := d.emails.FindLatestByThreadID(ctx, threadID)
		if err == nil {
			return email, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrEmailNotFound
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
