package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"leadpilot/models"
)

type LeadStore struct {
	DB *gorm.DB
}

func (s *LeadStore) FindByID(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.DB.WithContext(ctx).First(&lead, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &lead, nil
}

func (s *LeadStore) FindByIDs(ctx context.Context, ids []uint) ([]models.Lead, error) {
	var leads []models.Lead
	if len(ids) == 0 {
		return leads, nil
	}
	err := s.DB.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&leads).Error
	return leads, err
}

func (s *LeadStore) MarkReplied(ctx context.Context, id uint, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Updates(map[string]interface{}{
		"has_replied": true,
		"status":      models.LeadStatusReplied,
		"replied_at":  at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type CampaignStore struct {
	DB *gorm.DB
}

var counterColumns = map[string]bool{
	CounterTotalLeads:    true,
	CounterEmailsQueued:  true,
	CounterEmailsSent:    true,
	CounterEmailsReplied: true,
}

func (s *CampaignStore) FindByID(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.DB.WithContext(ctx).First(&campaign, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &campaign, nil
}

// IncrementCounter adds delta to one of the denormalized campaign counters in a single UPDATE.
func (s *CampaignStore) IncrementCounter(ctx context.Context, id uint, column string, delta int) error {
	if !counterColumns[column] {
		return fmt.Errorf("unknown campaign counter %q", column)
	}
	res := s.DB.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).
		Update(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type UserStore struct {
	DB *gorm.DB
}

func (s *UserStore) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
