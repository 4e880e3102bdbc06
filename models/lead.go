package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses
const (
	LeadStatusNew           = "new"
	LeadStatusContacted     = "contacted"
	LeadStatusReplied       = "replied"
	LeadStatusInterested    = "interested"
	LeadStatusNotInterested = "not_interested"
	LeadStatusBounced       = "bounced"
)

// Lead represents a single business contact targeted for outreach
type Lead struct {
	gorm.Model
	UserID     uint  `gorm:"index" json:"user_id"`
	CampaignID *uint `gorm:"index" json:"campaign_id,omitempty"`

	BusinessName      string `gorm:"not null" json:"business_name"`
	Email             string `gorm:"index" json:"email"`
	DecisionMakerName string `json:"decision_maker_name"`
	Website           string `json:"website"`
	Phone             string `json:"phone"`
	Address           string `json:"address"`
	Industry          string `json:"industry"`

	// Status
	Status     string     `gorm:"default:'new';index" json:"status"`
	HasReplied bool       `gorm:"default:false;index" json:"has_replied"`
	RepliedAt  *time.Time `json:"replied_at"`

	// Scores (0-100)
	PriorityScore *int `json:"priority_score"`
	IntentScore   int  `gorm:"default:0" json:"intent_score"`
	LeadScore     int  `gorm:"default:0" json:"lead_score"`
}

// IntentSignal is an externally detected buying-intent event for a lead
type IntentSignal struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`

	SignalType     string    `gorm:"not null" json:"signal_type"` // hiring, funding, expansion, tech_change, ...
	Description    string    `json:"description"`
	RelevanceScore int       `gorm:"default:0" json:"relevance_score"`
	IsActionable   bool      `gorm:"default:false;index" json:"is_actionable"`
	DetectedAt     time.Time `json:"detected_at"`
}

// WebsiteHealthScore is one website audit result for a lead
type WebsiteHealthScore struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`

	OverallScore int       `gorm:"not null" json:"overall_score"`
	CheckedAt    time.Time `gorm:"index" json:"checked_at"`
}
