package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

// Campaign represents an outreach campaign and the sequence its leads move through
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, completed

	// Sending window. A window is only enforced when SendEndHour > SendStartHour.
	SendStartHour    int    `json:"send_start_hour"`
	SendEndHour      int    `json:"send_end_hour"`
	Timezone         string `json:"timezone"`
	BusinessDaysOnly bool   `json:"business_days_only"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Statistics (denormalized for performance)
	TotalLeads    int `gorm:"default:0" json:"total_leads"`
	EmailsQueued  int `gorm:"default:0" json:"emails_queued"`
	EmailsSent    int `gorm:"default:0" json:"emails_sent"`
	EmailsReplied int `gorm:"default:0" json:"emails_replied"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
}

// HasSendingWindow reports whether the campaign restricts send hours.
func (c *Campaign) HasSendingWindow() bool {
	return c.SendEndHour > c.SendStartHour
}
