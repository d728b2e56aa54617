package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentMethod references a gateway payment method with masked card details.
type PaymentMethod struct {
	ID           string    `gorm:"type:char(36);primaryKey" json:"id"`
	UserID       string    `gorm:"type:char(36);not null;index" json:"user_id"`
	ExternalID   string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_payment_method_id"`
	CardBrand    string    `gorm:"type:varchar(32);default:''" json:"card_brand"`
	CardLast4    string    `gorm:"type:varchar(4);default:''" json:"card_last4"`
	CardExpMonth int       `gorm:"default:0" json:"card_exp_month"`
	CardExpYear  int       `gorm:"default:0" json:"card_exp_year"`
	IsDefault    bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *PaymentMethod) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Label renders e.g. "visa •••• 4242 (12/2030)".
func (m *PaymentMethod) Label() string {
	return fmt.Sprintf("%s •••• %s (%02d/%d)", m.CardBrand, m.CardLast4, m.CardExpMonth, m.CardExpYear)
}
