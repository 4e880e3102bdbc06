package models

import (
	"time"

	"gorm.io/gorm"
)

// Outgoing webhook events
const (
	WebhookEventLeadReplied       = "lead.replied"
	WebhookEventSequenceCompleted = "sequence.completed"
	WebhookEventEmailQueued       = "email.queued"
	WebhookEventTest              = "webhook.test"
)

// Webhook is a user-configured endpoint that receives event notifications
type Webhook struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	URL      string   `gorm:"not null" json:"url"`
	Secret   string   `json:"-"`
	Events   []string `gorm:"type:jsonb;serializer:json" json:"events"`
	IsActive bool     `gorm:"default:true" json:"is_active"`

	FailureCount    int        `gorm:"default:0" json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	LastStatusCode  int        `json:"last_status_code"`
}

// Subscribes reports whether the webhook wants the given event. An empty list means all events.
func (w *Webhook) Subscribes(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery logs the outcome of one delivery attempt
type WebhookDelivery struct {
	gorm.Model
	WebhookID  uint      `gorm:"not null;index" json:"webhook_id"`
	DeliveryID string    `gorm:"not null" json:"delivery_id"`
	Event      string    `gorm:"not null" json:"event"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	SentAt     time.Time `json:"sent_at"`
}
