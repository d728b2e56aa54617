package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PlanTierFree       = "free"
	PlanTierPro        = "pro"
	PlanTierEnterprise = "enterprise"
)

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

// SubscriptionPlan is a catalog entry users can pay for.
type SubscriptionPlan struct {
	ID           string          `gorm:"type:char(36);primaryKey" json:"id"`
	Name         string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Tier         string          `gorm:"type:varchar(20);not null;default:'free';index" json:"tier"`
	PriceMonthly decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price_monthly"`
	PriceYearly  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price_yearly"`
	Currency     string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Features     datatypes.JSON  `json:"features"`
	IsActive     bool            `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PriceFor returns the plan price for a billing interval; anything but
// "year" is treated as monthly.
func (p *SubscriptionPlan) PriceFor(interval string) decimal.Decimal {
	if interval == BillingIntervalYear {
		return p.PriceYearly
	}
	return p.PriceMonthly
}

// FeatureList decodes Features as a list of strings, ignoring other shapes.
func (p *SubscriptionPlan) FeatureList() []string {
	var out []string
	if len(p.Features) == 0 {
		return out
	}
	if err := json.Unmarshal(p.Features, &out); err != nil {
		return nil
	}
	return out
}
