package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadpilot/models"
)

type QueueStore struct {
	DB *gorm.DB
}

// Columns refreshed when a lead is re-added to a campaign's queue
var queueUpsertColumns = []string{
	"priority_score",
	"intent_score",
	"website_health_score",
	"recommended_approach",
	"intent_signals",
	"queue_status",
	"send_window_start",
	"send_window_end",
	"timezone",
	"business_days_only",
	"updated_at",
}

func (s *QueueStore) Upsert(ctx context.Context, q *models.QueuedLead) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}, {Name: "campaign_id"}},
		DoUpdates: clause.AssignmentColumns(queueUpsertColumns),
	}).Create(q).Error
}

func (s *QueueStore) FindByID(ctx context.Context, id uint) (*models.QueuedLead, error) {
	var q models.QueuedLead
	if err := s.DB.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *QueueStore) NextReady(ctx context.Context, campaignID *uint, now time.Time, limit int) ([]models.QueuedLead, error) {
	var rows []models.QueuedLead
	q := s.DB.WithContext(ctx).
		Where("queue_status = ?", models.QueueStatusReady).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now)
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}
	err := byPriority(q).Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *QueueStore) ListByStatus(ctx context.Context, campaignID *uint, status string, limit int) ([]models.QueuedLead, error) {
	var rows []models.QueuedLead
	q := s.DB.WithContext(ctx).Where("queue_status = ?", status)
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := byPriority(q).Find(&rows).Error
	return rows, err
}

func (s *QueueStore) List(ctx context.Context, campaignID, userID *uint) ([]models.QueuedLead, error) {
	var rows []models.QueuedLead
	q := s.DB.WithContext(ctx)
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}
	if userID != nil {
		owned := s.DB.Model(&models.Campaign{}).Select("id").Where("user_id = ?", *userID)
		q = q.Where("campaign_id IN (?)", owned)
	}
	err := byPriority(q).Find(&rows).Error
	return rows, err
}

func (s *QueueStore) Save(ctx context.Context, q *models.QueuedLead) error {
	return s.DB.WithContext(ctx).Save(q).Error
}

func (s *QueueStore) Delete(ctx context.Context, id uint) error {
	res := s.DB.WithContext(ctx).Unscoped().Delete(&models.QueuedLead{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// byPriority orders highest priority first; equal scores go oldest first, then by id.
func byPriority(q *gorm.DB) *gorm.DB {
	return q.Order("priority_score DESC").Order("created_at ASC").Order("id ASC")
}

type SignalStore struct {
	DB *gorm.DB
}

func (s *SignalStore) TopActionable(ctx context.Context, leadID uint, limit int) ([]models.IntentSignal, error) {
	var signals []models.IntentSignal
	err := s.DB.WithContext(ctx).
		Where("lead_id = ? AND is_actionable = ?", leadID, true).
		Order("relevance_score DESC").
		Limit(limit).
		Find(&signals).Error
	return signals, err
}

func (s *SignalStore) LatestHealthScore(ctx context.Context, leadID uint) (*models.WebsiteHealthScore, error) {
	var score models.WebsiteHealthScore
	err := s.DB.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("checked_at DESC").
		Take(&score).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &score, nil
}
