package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadpilot/models"
)

type StepStore struct {
	DB *gorm.DB
}

func (s *StepStore) ReplaceForCampaign(ctx context.Context, campaignID uint, steps []models.SequenceStep) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Hard delete so the (campaign_id, step_number) index is free for the new set
		if err := tx.Unscoped().Where("campaign_id = ?", campaignID).Delete(&models.SequenceStep{}).Error; err != nil {
			return fmt.Errorf("failed to delete existing steps: %w", err)
		}
		if len(steps) == 0 {
			return nil
		}
		for i := range steps {
			steps[i].CampaignID = campaignID
		}
		if err := tx.Create(&steps).Error; err != nil {
			return fmt.Errorf("failed to insert steps: %w", err)
		}
		return nil
	})
}

func (s *StepStore) FindActive(ctx context.Context, campaignID uint, stepNumber int) (*models.SequenceStep, error) {
	var step models.SequenceStep
	err := s.DB.WithContext(ctx).
		Where("campaign_id = ? AND step_number = ? AND is_active = ?", campaignID, stepNumber, true).
		First(&step).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &step, nil
}

func (s *StepStore) ListActive(ctx context.Context, campaignID uint) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.DB.WithContext(ctx).
		Where("campaign_id = ? AND is_active = ?", campaignID, true).
		Order("step_number ASC").
		Find(&steps).Error
	return steps, err
}

type ProgressStore struct {
	DB *gorm.DB
}

func (s *ProgressStore) FindByLead(ctx context.Context, leadID uint) (*models.LeadSequenceProgress, error) {
	var p models.LeadSequenceProgress
	if err := s.DB.WithContext(ctx).Where("lead_id = ?", leadID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *ProgressStore) Create(ctx context.Context, p *models.LeadSequenceProgress) error {
	return s.DB.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

func (s *ProgressStore) Save(ctx context.Context, p *models.LeadSequenceProgress) error {
	return s.DB.WithContext(ctx).Omit(clause.Associations).Save(p).Error
}

func (s *ProgressStore) ListEligible(ctx context.Context, now time.Time, userID *uint, limit int) ([]models.LeadSequenceProgress, error) {
	var rows []models.LeadSequenceProgress
	q := s.DB.WithContext(ctx).
		Joins("Lead").
		Where("lead_sequence_progress.is_paused = ?", false).
		Where("lead_sequence_progress.completed_at IS NULL").
		Where("lead_sequence_progress.next_send_date <= ?", now).
		Where(`"Lead".has_replied = ?`, false)
	if userID != nil {
		q = q.Where(`"Lead".user_id = ?`, *userID)
	}
	err := q.Order("lead_sequence_progress.next_send_date ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
