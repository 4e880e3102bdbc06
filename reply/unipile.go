package reply

import (
	"context"
	"errors"
	"time"
)

// Provider events that carry a newly received message
var unipileMessageEvents = map[string]bool{
	"message_received": true,
	"message.created":  true,
	"mail_received":    true,
}

// UnipilePayload is the subset of the messaging provider's webhook body we use.
type UnipilePayload struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
	InReplyTo string `json:"in_reply_to"`
	ThreadID  string `json:"thread_id"`
	IsSender  bool   `json:"is_sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Relevant reports whether the payload is an inbound message from someone else.
func (p UnipilePayload) Relevant() bool {
	return unipileMessageEvents[p.Event] && !p.IsSender
}

// WebhookResult is returned to the provider.
type WebhookResult struct {
	Processed bool     `json:"processed"`
	Matched   bool     `json:"matched"`
	Reason    string   `json:"reason,omitempty"`
	Outcome   *Outcome `json:"outcome,omitempty"`
}

// HandleUnipile filters, matches and applies a provider webhook. Irrelevant or
// unmatched payloads are not errors.
func (d *Detector) HandleUnipile(ctx context.Context, p UnipilePayload) (WebhookResult, error) {
	if !p.Relevant() {
		return WebhookResult{Reason: "ignored event"}, nil
	}

	email, err := d.MatchEmail(ctx, []string{p.InReplyTo}, p.ThreadID)
	if errors.Is(err, ErrEmailNotFound) {
		return WebhookResult{Processed: true, Reason: "no matching email"}, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}

	ts := d.Now()
	if p.Timestamp != "" {
		if parsed, perr := time.Parse(time.RFC3339, p.Timestamp); perr == nil {
			ts = parsed
		}
	}

	out, err := d.HandleReply(ctx, Event{
		EmailID:    email.ID,
		LeadID:     email.LeadID,
		CampaignID: email.CampaignID,
		ReplyText:  p.Message,
		Timestamp:  ts,
	})
	return WebhookResult{Processed: true, Matched: true, Outcome: &out}, err
}
