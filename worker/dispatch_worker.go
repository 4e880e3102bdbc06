package worker

import (
	"context"
	"fmt"
	"time"

	"leadpilot/mailer"
	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/repository"
	"leadpilot/sequence"
	"leadpilot/utils"
)

const DefaultDispatchInterval = 30 * time.Second

// DispatchResult counts what one drain of the outbox did.
type DispatchResult struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// DispatchWorker sends queued emails through the configured mailer.
type DispatchWorker struct {
	emails    repository.EmailRepository
	leads     repository.LeadRepository
	campaigns repository.CampaignRepository
	sender    mailer.Sender
	throttle  sequence.Throttle
	monitor   *monitoring.Monitor

	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

func NewDispatchWorker(repos repository.Set, sender mailer.Sender, throttle sequence.Throttle, monitor *monitoring.Monitor) *DispatchWorker {
	if throttle == nil {
		throttle = sequence.NoThrottle
	}
	return &DispatchWorker{
		emails:    repos.Emails,
		leads:     repos.Leads,
		campaigns: repos.Campaigns,
		sender:    sender,
		throttle:  throttle,
		monitor:   monitor,
		Interval:  DefaultDispatchInterval,
		BatchSize: DefaultBatchSize,
		Now:       time.Now,
	}
}

func (w *DispatchWorker) Start(ctx context.Context) {
	w.monitor.Logger.Info("Dispatch worker started")
	run(ctx, w.Interval, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.monitor.LogError("dispatch_worker", err, nil)
		}
	})
	w.monitor.Logger.Info("Dispatch worker shutting down")
}

// RunOnce drains up to BatchSize queued emails, oldest first.
func (w *DispatchWorker) RunOnce(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult
	queued, err := w.emails.ListQueued(ctx, w.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list queued emails: %w", err)
	}

	for i := range queued {
		if ctx.Err() != nil {
			break
		}
		email := &queued[i]

		lead, err := w.leads.FindByID(ctx, email.LeadID)
		if err == nil && lead.HasReplied {
			email.Status = models.EmailStatusCancelled
			email.ErrorMessage = "lead replied before send"
			w.save(ctx, email)
			result.Cancelled++
			continue
		}

		if err := w.throttle.Wait(ctx); err != nil {
			break
		}

		providerID, err := w.sender.Send(ctx, email)
		if err != nil {
			email.Status = models.EmailStatusFailed
			email.ErrorMessage = err.Error()
			w.save(ctx, email)
			result.Failed++
			w.monitor.LogError("email_send", err, map[string]interface{}{
				"email_id": email.ID,
				"lead_id":  email.LeadID,
			})
			continue
		}

		email.Status = models.EmailStatusSent
		email.SentAt = utils.Pointer(w.Now())
		email.ProviderMessageID = providerID
		email.ErrorMessage = ""
		w.save(ctx, email)
		result.Sent++

		if err := w.campaigns.IncrementCounter(ctx, email.CampaignID, repository.CounterEmailsSent, 1); err != nil {
			w.monitor.LogError("campaign_counter", err, map[string]interface{}{"campaign_id": email.CampaignID})
		}
	}

	w.monitor.Incr("emails.sent", int64(result.Sent))
	w.monitor.Incr("emails.failed", int64(result.Failed))
	if result.Sent+result.Failed+result.Cancelled > 0 {
		w.monitor.LogEvent("dispatch_completed", map[string]interface{}{
			"sent":      result.Sent,
			"failed":    result.Failed,
			"cancelled": result.Cancelled,
		})
	}
	return result, nil
}

func (w *DispatchWorker) save(ctx context.Context, email *models.Email) {
	if err := w.emails.Save(ctx, email); err != nil {
		w.monitor.LogError("email_save", err, map[string]interface{}{"email_id": email.ID})
	}
}
