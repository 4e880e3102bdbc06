// Package repository holds the persistence contracts for the sequencing core
// and their gorm implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"leadpilot/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Counter columns that may be incremented on a campaign.
const (
	CounterTotalLeads    = "total_leads"
	CounterEmailsQueued  = "emails_queued"
	CounterEmailsSent    = "emails_sent"
	CounterEmailsReplied = "emails_replied"
)

type SequenceStepRepository interface {
	// ReplaceForCampaign deletes every step of the campaign and inserts steps, all or nothing.
	ReplaceForCampaign(ctx context.Context, campaignID uint, steps []models.SequenceStep) error
	FindActive(ctx context.Context, campaignID uint, stepNumber int) (*models.SequenceStep, error)
	ListActive(ctx context.Context, campaignID uint) ([]models.SequenceStep, error)
}

type ProgressRepository interface {
	FindByLead(ctx context.Context, leadID uint) (*models.LeadSequenceProgress, error)
	Create(ctx context.Context, p *models.LeadSequenceProgress) error
	Save(ctx context.Context, p *models.LeadSequenceProgress) error
	// ListEligible returns unpaused, uncompleted rows due at now whose lead has not replied,
	// oldest next_send_date first. A non-nil userID keeps only that user's leads.
	ListEligible(ctx context.Context, now time.Time, userID *uint, limit int) ([]models.LeadSequenceProgress, error)
}

type LeadRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Lead, error)
	FindByIDs(ctx context.Context, ids []uint) ([]models.Lead, error)
	MarkReplied(ctx context.Context, id uint, at time.Time) error
}

type EmailRepository interface {
	Create(ctx context.Context, e *models.Email) error
	FindByID(ctx context.Context, id uint) (*models.Email, error)
	FindByMessageID(ctx context.Context, messageID string) (*models.Email, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Email, error)
	FindLatestByThreadID(ctx context.Context, threadID string) (*models.Email, error)
	ListQueued(ctx context.Context, limit int) ([]models.Email, error)
	Save(ctx context.Context, e *models.Email) error
	// MarkReplied flips the email to replied and reports whether this call made the transition.
	MarkReplied(ctx context.Context, id uint, text, sentiment string, at time.Time) (bool, error)
}

type CampaignRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Campaign, error)
	IncrementCounter(ctx context.Context, id uint, column string, delta int) error
}

type QueueRepository interface {
	// Upsert inserts the entry or overwrites the existing row for the same (lead, campaign).
	Upsert(ctx context.Context, q *models.QueuedLead) error
	FindByID(ctx context.Context, id uint) (*models.QueuedLead, error)
	// NextReady returns ready rows due at now ordered by priority_score desc, created_at asc, id asc.
	NextReady(ctx context.Context, campaignID *uint, now time.Time, limit int) ([]models.QueuedLead, error)
	ListByStatus(ctx context.Context, campaignID *uint, status string, limit int) ([]models.QueuedLead, error)
	// List returns every row, narrowed to one campaign and/or to the campaigns
	// of one user when those are non-nil.
	List(ctx context.Context, campaignID, userID *uint) ([]models.QueuedLead, error)
	Save(ctx context.Context, q *models.QueuedLead) error
	Delete(ctx context.Context, id uint) error
}

type SignalRepository interface {
	TopActionable(ctx context.Context, leadID uint, limit int) ([]models.IntentSignal, error)
	LatestHealthScore(ctx context.Context, leadID uint) (*models.WebsiteHealthScore, error)
}

type AnalyticsRepository interface {
	Record(ctx context.Context, e *models.AnalyticsEvent) error
	RecordOpen(ctx context.Context, o *models.EmailOpen) error
	OpenTimes(ctx context.Context, campaignID uint) ([]time.Time, error)
}

type WebhookRepository interface {
	Create(ctx context.Context, w *models.Webhook) error
	FindByID(ctx context.Context, userID, id uint) (*models.Webhook, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Webhook, error)
	ListActiveForEvent(ctx context.Context, userID uint, event string) ([]models.Webhook, error)
	Delete(ctx context.Context, userID, id uint) error
	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
	// MarkTriggered stores the last outcome and bumps failure_count when failed is set.
	MarkTriggered(ctx context.Context, id uint, statusCode int, at time.Time, failed bool) error
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// Set bundles one implementation of every repository.
type Set struct {
	Steps     SequenceStepRepository
	Progress  ProgressRepository
	Leads     LeadRepository
	Emails    EmailRepository
	Campaigns CampaignRepository
	Queue     QueueRepository
	Signals   SignalRepository
	Analytics AnalyticsRepository
	Webhooks  WebhookRepository
	Users     UserRepository
}

// NewGormSet returns a Set backed by db.
func NewGormSet(db *gorm.DB) Set {
	return Set{
		Steps:     &StepStore{DB: db},
		Progress:  &ProgressStore{DB: db},
		Leads:     &LeadStore{DB: db},
		Emails:    &EmailStore{DB: db},
		Campaigns: &CampaignStore{DB: db},
		Queue:     &QueueStore{DB: db},
		Signals:   &SignalStore{DB: db},
		Analytics: &AnalyticsStore{DB: db},
		Webhooks:  &WebhookStore{DB: db},
		Users:     &UserStore{DB: db},
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
