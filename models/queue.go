package models

import (
	"time"

	"gorm.io/gorm"
)

// Queue statuses
const (
	QueueStatusPending    = "pending"
	QueueStatusReady      = "ready"
	QueueStatusProcessing = "processing"
	QueueStatusSent       = "sent"
	QueueStatusFailed     = "failed"
	QueueStatusSkipped    = "skipped"
)

// QueueStatuses lists every valid queue status.
var QueueStatuses = []string{
	QueueStatusPending,
	QueueStatusReady,
	QueueStatusProcessing,
	QueueStatusSent,
	QueueStatusFailed,
	QueueStatusSkipped,
}

// Recommended outreach approaches
const (
	ApproachHighIntentAggressive    = "high_intent_aggressive"
	ApproachWebsiteImprovementPitch = "website_improvement_pitch"
	ApproachModerateInterestNurture = "moderate_interest_nurture"
	ApproachStandardOutreach        = "standard_outreach"
)

// SignalSnapshot is the copy of an intent signal stored on a queue row
type SignalSnapshot struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Relevance   int    `json:"relevance"`
}

// QueuedLead is a priority-queue entry for one (lead, campaign) pair
type QueuedLead struct {
	gorm.Model
	LeadID     uint `gorm:"not null;uniqueIndex:idx_queue_lead_campaign" json:"lead_id"`
	CampaignID uint `gorm:"not null;uniqueIndex:idx_queue_lead_campaign" json:"campaign_id"`

	// Scores snapshotted when the lead was queued (0-100)
	PriorityScore       int              `gorm:"not null;default:50;index" json:"priority_score"`
	IntentScore         int              `gorm:"default:0" json:"intent_score"`
	WebsiteHealthScore  *int             `json:"website_health_score"`
	RecommendedApproach string           `json:"recommended_approach"`
	IntentSignals       []SignalSnapshot `gorm:"type:jsonb;serializer:json" json:"intent_signals"`

	QueueStatus  string     `gorm:"default:'pending';index" json:"queue_status"`
	ScheduledFor *time.Time `gorm:"index" json:"scheduled_for"`
	ProcessedAt  *time.Time `json:"processed_at"`
	LastError    string     `json:"last_error,omitempty"`

	// Sending policy
	SendWindowStart  int    `json:"send_window_start"`
	SendWindowEnd    int    `json:"send_window_end"`
	Timezone         string `json:"timezone"`
	BusinessDaysOnly bool   `json:"business_days_only"`
}

func (QueuedLead) TableName() string {
	return "lead_priority_queue"
}

// IsValidQueueStatus reports whether s is a known queue status.
func IsValidQueueStatus(s string) bool {
	for _, status := range QueueStatuses {
		if s == status {
			return true
		}
	}
	return false
}
