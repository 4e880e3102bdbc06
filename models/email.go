package models

import (
	"time"

	"gorm.io/gorm"
)

// Email statuses
const (
	EmailStatusQueued    = "queued"
	EmailStatusSent      = "sent"
	EmailStatusFailed    = "failed"
	EmailStatusReplied   = "replied"
	EmailStatusCancelled = "cancelled"
)

// Email is one outbound message created by the sequence processor
type Email struct {
	gorm.Model
	LeadID         uint  `gorm:"not null;index" json:"lead_id"`
	CampaignID     uint  `gorm:"not null;index" json:"campaign_id"`
	SequenceStepID *uint `json:"sequence_step_id,omitempty"`
	StepNumber     int   `json:"step_number"`

	ToEmail string `gorm:"not null" json:"to_email"`
	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	Status string `gorm:"default:'queued';index" json:"status"` // queued, sent, failed, replied, cancelled

	// MessageID is generated when the row is queued; ProviderMessageID and ThreadID
	// are filled in by whatever transport delivers the message.
	MessageID         string `gorm:"not null;uniqueIndex" json:"message_id"`
	ProviderMessageID string `gorm:"index" json:"provider_message_id"`
	ThreadID          string `gorm:"index" json:"thread_id"`

	SentAt         *time.Time `json:"sent_at"`
	RepliedAt      *time.Time `json:"replied_at"`
	ReplyText      string     `gorm:"type:text" json:"reply_text,omitempty"`
	ReplySentiment string     `json:"reply_sentiment,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// EmailOpen records one open of an outbound email
type EmailOpen struct {
	gorm.Model
	EmailID    uint      `gorm:"not null;index" json:"email_id"`
	LeadID     uint      `gorm:"not null;index" json:"lead_id"`
	CampaignID uint      `gorm:"not null;index" json:"campaign_id"`
	OpenedAt   time.Time `gorm:"not null" json:"opened_at"`
}

// AnalyticsEvent tracks campaign-level events such as replies
type AnalyticsEvent struct {
	gorm.Model
	CampaignID uint  `gorm:"index" json:"campaign_id"`
	LeadID     uint  `gorm:"index" json:"lead_id"`
	EmailID    *uint `json:"email_id,omitempty"`

	EventType  string                 `gorm:"not null;index" json:"event_type"` // email_replied, sequence_completed, ...
	Metadata   map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata"`
	OccurredAt time.Time              `gorm:"not null" json:"occurred_at"`
}
