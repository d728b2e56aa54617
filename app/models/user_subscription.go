package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserSubscription is a user's entitlement to a subscription plan.
//
// ActiveUserID mirrors UserID while the row is active and is NULL otherwise.
// Its unique index lets the database reject a second active row per user.
type UserSubscription struct {
	ID             string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID         string     `gorm:"type:char(36);not null;index:idx_user_subscriptions_user_plan,priority:1" json:"user_id"`
	SubscriptionID string     `gorm:"type:char(36);not null;index:idx_user_subscriptions_user_plan,priority:2" json:"subscription_id"`
	StartsAt       time.Time  `gorm:"type:timestamp;not null" json:"starts_at"`
	EndsAt         *time.Time `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	IsActive       bool       `gorm:"not null;default:false;index" json:"is_active"`
	ActiveUserID   *string    `gorm:"type:char(36);uniqueIndex:ux_user_subscriptions_active_user" json:"-"`
	PaymentStatus  string     `gorm:"type:varchar(16);not null;default:'pending'" json:"payment_status"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *UserSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.PaymentStatus == "" {
		s.PaymentStatus = PaymentStatusPending
	}
	return nil
}

// NewPendingUserSubscription returns an inactive entitlement awaiting payment.
func NewPendingUserSubscription(userID, planID string, now time.Time) *UserSubscription {
	return &UserSubscription{
		UserID:         userID,
		SubscriptionID: planID,
		StartsAt:       now,
		PaymentStatus:  PaymentStatusPending,
	}
}

// Activate marks the entitlement as the user's single active row starting at now.
func (s *UserSubscription) Activate(now time.Time) {
	userID := s.UserID
	s.IsActive = true
	s.ActiveUserID = &userID
	s.StartsAt = now
	s.EndsAt = nil
	s.PaymentStatus = PaymentStatusSucceeded
}

// Close ends the entitlement at now and frees the user's active slot.
func (s *UserSubscription) Close(now time.Time, paymentStatus string) {
	s.IsActive = false
	s.ActiveUserID = nil
	s.EndsAt = &now
	if paymentStatus != "" {
		s.PaymentStatus = paymentStatus
	}
}
