package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCanceled  = "canceled"
)

// PaymentIntent is the local mirror of one gateway payment attempt.
// Status only ever moves pending -> succeeded or pending -> failed.
type PaymentIntent struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	ExternalID     string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_payment_intent_id" validate:"required,max=191"`
	UserID         string          `gorm:"type:char(36);not null;index" json:"user_id" validate:"required,uuid"`
	SubscriptionID string          `gorm:"type:char(36);not null;index" json:"subscription_id" validate:"required,uuid"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"required,len=3"`
	Status         string          `gorm:"type:varchar(16);not null;default:'pending';index:idx_payment_intents_status_updated,priority:1" json:"status" validate:"oneof=pending succeeded failed"`
	ClientSecret   string          `gorm:"type:varchar(255);not null;default:''" json:"client_secret"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime;index:idx_payment_intents_status_updated,priority:2" json:"updated_at"`
}

func (p *PaymentIntent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	return nil
}

func (p *PaymentIntent) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// IsTerminal reports whether the attempt reached succeeded or failed.
func (p *PaymentIntent) IsTerminal() bool {
	return IsTerminalPaymentStatus(p.Status)
}

func IsTerminalPaymentStatus(status string) bool {
	return status == PaymentStatusSucceeded || status == PaymentStatusFailed
}
