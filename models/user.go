package models

import (
	"gorm.io/gorm"
)

// User represents an account that owns campaigns, leads and webhooks
type User struct {
	gorm.Model

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name,omitempty"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// TokenVersion is bumped to revoke every outstanding access token
	TokenVersion int `gorm:"default:0" json:"-"`

	// Relations
	Campaigns []Campaign `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Webhooks  []Webhook  `gorm:"foreignKey:UserID" json:"webhooks,omitempty"`
}
