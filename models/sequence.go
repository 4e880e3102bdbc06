package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceStep is one templated message in a campaign's drip sequence.
// Steps are replaced wholesale, never edited in place.
type SequenceStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;uniqueIndex:idx_campaign_step" json:"campaign_id"`
	StepNumber int  `gorm:"not null;uniqueIndex:idx_campaign_step" json:"step_number"`
	DelayDays  int  `gorm:"not null;default:0" json:"delay_days"`

	Subject  string `gorm:"size:200;not null" json:"subject"`
	Body     string `gorm:"type:text;not null" json:"body"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

// LeadSequenceProgress is the per-lead cursor into its campaign's sequence
type LeadSequenceProgress struct {
	gorm.Model
	LeadID     uint `gorm:"not null;uniqueIndex" json:"lead_id"`
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	CurrentStep  int        `gorm:"not null;default:1" json:"current_step"`
	NextSendDate *time.Time `gorm:"index" json:"next_send_date"`
	LastSentAt   *time.Time `json:"last_sent_at"`

	IsPaused    bool       `gorm:"default:false;index" json:"is_paused"`
	PauseReason *string    `json:"pause_reason"`
	PausedAt    *time.Time `json:"paused_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Lead Lead `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}

func (LeadSequenceProgress) TableName() string {
	return "lead_sequence_progress"
}

// IsCompleted reports whether the lead has finished its sequence.
func (p *LeadSequenceProgress) IsCompleted() bool {
	return p.CompletedAt != nil
}

// DueAt reports whether the row is eligible to send at now, ignoring the lead's reply state.
func (p *LeadSequenceProgress) DueAt(now time.Time) bool {
	return !p.IsPaused && p.CompletedAt == nil && p.NextSendDate != nil && !p.NextSendDate.After(now)
}
