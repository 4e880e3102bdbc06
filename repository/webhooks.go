package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"leadpilot/models"
)

type WebhookStore struct {
	DB *gorm.DB
}

func (s *WebhookStore) Create(ctx context.Context, w *models.Webhook) error {
	return s.DB.WithContext(ctx).Create(w).Error
}

func (s *WebhookStore) FindByID(ctx context.Context, userID, id uint) (*models.Webhook, error) {
	var w models.Webhook
	if err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&w).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (s *WebhookStore) ListByUser(ctx context.Context, userID uint) ([]models.Webhook, error) {
	var hooks []models.Webhook
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&hooks).Error
	return hooks, err
}

func (s *WebhookStore) ListActiveForEvent(ctx context.Context, userID uint, event string) ([]models.Webhook, error) {
	var hooks []models.Webhook
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id ASC").
		Find(&hooks).Error
	if err != nil {
		return nil, err
	}

	// Event lists are small json arrays, filter here rather than in SQL
	subscribed := hooks[:0]
	for _, h := range hooks {
		if h.Subscribes(event) {
			subscribed = append(subscribed, h)
		}
	}
	return subscribed, nil
}

func (s *WebhookStore) Delete(ctx context.Context, userID, id uint) error {
	res := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Webhook{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *WebhookStore) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	return s.DB.WithContext(ctx).Create(d).Error
}

func (s *WebhookStore) MarkTriggered(ctx context.Context, id uint, statusCode int, at time.Time, failed bool) error {
	updates := map[string]interface{}{
		"last_triggered_at": at,
		"last_status_code":  statusCode,
	}
	if failed {
		updates["failure_count"] = gorm.Expr("failure_count + ?", 1)
	}
	return s.DB.WithContext(ctx).Model(&models.Webhook{}).Where("id = ?", id).Updates(updates).Error
}
