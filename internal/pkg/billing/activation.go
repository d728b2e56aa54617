package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayMirror/app/models"
)

// Activate makes planID the user's single active entitlement, closing any
// previously active one in the same transaction.
func (s *Service) Activate(ctx context.Context, userID, planID string) (*models.UserSubscription, error) {
	userID = strings.TrimSpace(userID)
	planID = strings.TrimSpace(planID)
	if userID == "" || planID == "" {
		return nil, fmt.Errorf("%w: user_id and subscription_id are required", ErrInvalidInput)
	}

	var sub *models.UserSubscription
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		sub, err = s.activate(ctx, tx, userID, planID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// activate is the close-old/open-new swap; callers own the transaction.
func (s *Service) activate(ctx context.Context, tx Repository, userID, planID string, now time.Time) (*models.UserSubscription, error) {
	if _, err := tx.FindPlan(ctx, planID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, err
	}

	closed, err := tx.CloseActiveUserSubscriptions(ctx, userID, now, "")
	if err != nil {
		return nil, err
	}

	sub, err := tx.FindPendingUserSubscription(ctx, userID, planID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		sub = models.NewPendingUserSubscription(userID, planID, now)
	}
	sub.Activate(now)
	if err := tx.SaveUserSubscription(ctx, sub); err != nil {
		return nil, err
	}

	log.Infof("[Billing] Activated plan %s for user %s (closed %d previous)", planID, userID, closed)
	return sub, nil
}

// Subscribe records the user's intent to buy planID as a pending entitlement.
// Calling it again while that entitlement is pending returns the same row.
func (s *Service) Subscribe(ctx context.Context, userID, planID string) (*models.UserSubscription, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: %s is not offered", ErrPlanNotFound, planID)
	}

	var sub *models.UserSubscription
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		existing, err := tx.FindPendingUserSubscription(ctx, userID, plan.ID)
		if err == nil {
			sub = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		sub = models.NewPendingUserSubscription(userID, plan.ID, s.now())
		return tx.SaveUserSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel closes the user's active entitlement.
func (s *Service) Cancel(ctx context.Context, userID string) (*models.UserSubscription, error) {
	now := s.now()
	var sub *models.UserSubscription
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		active, err := tx.GetActiveUserSubscription(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoActiveSubscription
			}
			return err
		}
		if _, err := tx.CloseActiveUserSubscriptions(ctx, userID, now, models.PaymentStatusCanceled); err != nil {
			return err
		}
		active.Close(now, models.PaymentStatusCanceled)
		sub = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Billing] Canceled subscription %s for user %s", sub.ID, userID)
	return sub, nil
}

func (s *Service) GetActiveSubscription(ctx context.Context, userID string) (*models.UserSubscription, error) {
	sub, err := s.repo.GetActiveUserSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	return sub, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []models.SubscriptionPlan{}
	}
	return plans, nil
}

func (s *Service) GetPlan(ctx context.Context, planID string) (*models.SubscriptionPlan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, ErrPlanNotFound
	}
	plan, err := s.repo.FindPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, err
	}
	return plan, nil
}
