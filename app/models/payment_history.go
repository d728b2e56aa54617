package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentHistory is the append-only ledger of terminal payment outcomes.
// One row per (payment intent, outcome); rows are never updated or deleted.
type PaymentHistory struct {
	ID              string          `gorm:"type:char(36);primaryKey" json:"id"`
	UserID          string          `gorm:"type:char(36);not null;index:idx_payment_histories_user_created,priority:1" json:"user_id"`
	SubscriptionID  string          `gorm:"type:char(36);not null;index" json:"subscription_id"`
	PaymentIntentID string          `gorm:"type:char(36);not null;index:ux_payment_histories_intent_status,unique,priority:1" json:"payment_intent_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status          string          `gorm:"type:varchar(16);not null;index:ux_payment_histories_intent_status,unique,priority:2" json:"status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index:idx_payment_histories_user_created,priority:2" json:"created_at"`
}

func (h *PaymentHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}

// NewPaymentHistory builds the ledger entry for a terminal outcome of intent.
func NewPaymentHistory(intent *PaymentIntent, status string) *PaymentHistory {
	return &PaymentHistory{
		UserID:          intent.UserID,
		SubscriptionID:  intent.SubscriptionID,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          status,
	}
}
