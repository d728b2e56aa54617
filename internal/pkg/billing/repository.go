package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayMirror/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	// Transaction runs fn against a repository bound to one database
	// transaction. A non-nil error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	FindPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error)

	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetPaymentIntentByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error)
	// TransitionPaymentIntent sets status only if the row is still pending and
	// reports whether it did.
	TransitionPaymentIntent(ctx context.Context, externalID, status string, at time.Time) (bool, error)
	TouchPaymentIntent(ctx context.Context, externalID string, at time.Time) error
	// ListStalePendingIntents returns pending attempts last touched before
	// updatedBefore and created after createdAfter, oldest first.
	ListStalePendingIntents(ctx context.Context, updatedBefore, createdAfter time.Time, limit int) ([]models.PaymentIntent, error)

	// AppendPaymentHistory returns ErrDuplicateEntry when the entry exists.
	AppendPaymentHistory(ctx context.Context, entry *models.PaymentHistory) error
	ListPaymentHistory(ctx context.Context, userID string, offset, limit int) ([]models.PaymentHistory, int64, error)

	GetActiveUserSubscription(ctx context.Context, userID string) (*models.UserSubscription, error)
	FindPendingUserSubscription(ctx context.Context, userID, planID string) (*models.UserSubscription, error)
	CloseActiveUserSubscriptions(ctx context.Context, userID string, at time.Time, paymentStatus string) (int64, error)
	SaveUserSubscription(ctx context.Context, sub *models.UserSubscription) error

	CreatePaymentMethodIfNotExists(ctx context.Context, method *models.PaymentMethod) (bool, error)
	ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price_monthly ASC").
		Find(&plans).Error
	return plans, err
}

func (r *gormRepository) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *gormRepository) GetPaymentIntentByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *gormRepository) TransitionPaymentIntent(ctx context.Context, externalID, status string, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("external_id = ? AND status = ?", externalID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) TouchPaymentIntent(ctx context.Context, externalID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("external_id = ?", externalID).
		Update("updated_at", at).Error
}

func (r *gormRepository) ListStalePendingIntents(ctx context.Context, updatedBefore, createdAfter time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ? AND created_at > ?", models.PaymentStatusPending, updatedBefore, createdAfter).
		Order("updated_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *gormRepository) AppendPaymentHistory(ctx context.Context, entry *models.PaymentHistory) error {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payment_intent_id"},
			{Name: "status"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrDuplicateEntry
	}
	return nil
}

func (r *gormRepository) ListPaymentHistory(ctx context.Context, userID string, offset, limit int) ([]models.PaymentHistory, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&models.PaymentHistory{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.PaymentHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	return entries, total, err
}

func (r *gormRepository) GetActiveUserSubscription(ctx context.Context, userID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindPendingUserSubscription(ctx context.Context, userID, planID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND subscription_id = ? AND is_active = ? AND ends_at IS NULL AND payment_status = ?",
			userID, planID, false, models.PaymentStatusPending).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CloseActiveUserSubscriptions(ctx context.Context, userID string, at time.Time, paymentStatus string) (int64, error) {
	updates := map[string]interface{}{
		"is_active":      false,
		"active_user_id": nil,
		"ends_at":        at,
		"updated_at":     at,
	}
	if paymentStatus != "" {
		updates["payment_status"] = paymentStatus
	}
	tx := r.db.WithContext(ctx).
		Model(&models.UserSubscription{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) SaveUserSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *gormRepository) CreatePaymentMethodIfNotExists(ctx context.Context, method *models.PaymentMethod) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(method)
	if tx.Error != nil {
		return false, tx.Error
	}

	if tx.RowsAffected > 0 {
		return true, nil
	}

	// BeforeCreate already assigned a fresh primary key; reading into method
	// would make GORM add it to the WHERE clause.
	var stored models.PaymentMethod
	if err := r.db.WithContext(ctx).Where("external_id = ?", method.ExternalID).First(&stored).Error; err != nil {
		return false, err
	}
	*method = stored
	return false, nil
}

func (r *gormRepository) ListPaymentMethods(ctx context.Context, userID string) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at ASC").
		Find(&methods).Error
	return methods, err
}

func (r *gormRepository) SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) (bool, error) {
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("user_id = ?", userID).
		Update("is_default", false).Error; err != nil {
		return false, err
	}
	tx := r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("id = ? AND user_id = ?", methodID, userID).
		Update("is_default", true)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
