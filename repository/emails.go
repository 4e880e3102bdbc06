package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"leadpilot/models"
)

type EmailStore struct {
	DB *gorm.DB
}

func (s *EmailStore) Create(ctx context.Context, e *models.Email) error {
	return s.DB.WithContext(ctx).Create(e).Error
}

func (s *EmailStore) FindByID(ctx context.Context, id uint) (*models.Email, error) {
	var email models.Email
	if err := s.DB.WithContext(ctx).First(&email, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &email, nil
}

func (s *EmailStore) FindByMessageID(ctx context.Context, messageID string) (*models.Email, error) {
	return s.findOne(ctx, "message_id = ?", messageID)
}

func (s *EmailStore) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Email, error) {
	return s.findOne(ctx, "provider_message_id = ?", providerMessageID)
}

func (s *EmailStore) FindLatestByThreadID(ctx context.Context, threadID string) (*models.Email, error) {
	return s.findOne(ctx, "thread_id = ?", threadID)
}

func (s *EmailStore) findOne(ctx context.Context, query string, arg string) (*models.Email, error) {
	if arg == "" {
		return nil, ErrNotFound
	}
	var email models.Email
	if err := s.DB.WithContext(ctx).Where(query, arg).Order("id DESC").Take(&email).Error; err != nil {
		return nil, notFound(err)
	}
	return &email, nil
}

func (s *EmailStore) ListQueued(ctx context.Context, limit int) ([]models.Email, error) {
	var emails []models.Email
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.EmailStatusQueued).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

func (s *EmailStore) Save(ctx context.Context, e *models.Email) error {
	return s.DB.WithContext(ctx).Save(e).Error
}

func (s *EmailStore) MarkReplied(ctx context.Context, id uint, text, sentiment string, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Email{}).
		Where("id = ? AND status <> ?", id, models.EmailStatusReplied).
		Updates(map[string]interface{}{
			"status":          models.EmailStatusReplied,
			"replied_at":      at,
			"reply_text":      text,
			"reply_sentiment": sentiment,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type AnalyticsStore struct {
	DB *gorm.DB
}

func (s *AnalyticsStore) Record(ctx context.Context, e *models.AnalyticsEvent) error {
	return s.DB.WithContext(ctx).Create(e).Error
}

func (s *AnalyticsStore) RecordOpen(ctx context.Context, o *models.EmailOpen) error {
	return s.DB.WithContext(ctx).Create(o).Error
}

func (s *AnalyticsStore) OpenTimes(ctx context.Context, campaignID uint) ([]time.Time, error) {
	var times []time.Time
	err := s.DB.WithContext(ctx).Model(&models.EmailOpen{}).
		Where("campaign_id = ?", campaignID).
		Pluck("opened_at", &times).Error
	return times, err
}
