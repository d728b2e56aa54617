package billing_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
	"github.com/ManuelReschke/PayMirror/internal/pkg/billing/billingtest"
)

const otherUserID = "0f4a8a4e-1d2b-4e8f-9a55-2b7c1d9e3f01"

var paymentMethodColumns = []string{"id", "user_id", "external_id", "card_brand", "card_last4", "card_exp_month", "card_exp_year", "is_default"}

func newMockRepository(t *testing.T) (billing.Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return billing.NewRepository(db), mock
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestTransitionPaymentIntentOnlyFromPending(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE `payment_intents` SET .* WHERE external_id = \\? AND status = \\?").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "pi_1", models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `payment_intents` SET .* WHERE external_id = \\? AND status = \\?").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "pi_1", models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionPaymentIntent(ctx, "pi_1", models.PaymentStatusSucceeded, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionPaymentIntent(ctx, "pi_1", models.PaymentStatusFailed, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendPaymentHistoryDuplicate(t *testing.T) {
	repo, mock := newMockRepository(t)
	entry := &models.PaymentHistory{
		UserID:          testUserID,
		SubscriptionID:  "plan-1",
		PaymentIntentID: "intent-1",
		Amount:          decimal.RequireFromString("9.99"),
		Currency:        "usd",
		Status:          models.PaymentStatusSucceeded,
	}

	mock.ExpectExec("INSERT INTO `payment_histories` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `payment_histories` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AppendPaymentHistory(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)

	dup := *entry
	dup.ID = ""
	err := repo.AppendPaymentHistory(context.Background(), &dup)
	assert.True(t, errors.Is(err, billing.ErrDuplicateEntry))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepository(t)
	dbErr := errors.New("deadlock found")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `payment_intents`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `payment_histories`").WillReturnError(dbErr)
	mock.ExpectRollback()

	err := repo.Transaction(context.Background(), func(tx billing.Repository) error {
		if _, err := tx.TransitionPaymentIntent(context.Background(), "pi_1", models.PaymentStatusSucceeded, time.Now()); err != nil {
			return err
		}
		return tx.AppendPaymentHistory(context.Background(), &models.PaymentHistory{
			PaymentIntentID: "intent-1",
			Status:          models.PaymentStatusSucceeded,
		})
	})
	assert.True(t, errors.Is(err, dbErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionCommits(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `payment_intents` SET `updated_at`=\\? WHERE external_id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Transaction(context.Background(), func(tx billing.Repository) error {
		return tx.TouchPaymentIntent(context.Background(), "pi_1", time.Now())
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPlanNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `subscription_plans` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := repo.FindPlan(context.Background(), "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefaultPaymentMethodUnknownID(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE `payment_methods` SET `is_default`=\\?.* WHERE user_id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE `payment_methods` SET `is_default`=\\?.* WHERE id = \\? AND user_id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetDefaultPaymentMethod(context.Background(), testUserID, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentMethodIfNotExists(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO `payment_methods` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	method := &models.PaymentMethod{UserID: testUserID, ExternalID: "pm_visa", CardBrand: "visa", CardLast4: "4242"}
	created, err := repo.CreatePaymentMethodIfNotExists(ctx, method)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, method.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentMethodIfNotExistsReturnsStoredRow(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO `payment_methods` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// the lookup must not carry the freshly generated primary key
	mock.ExpectQuery("SELECT \\* FROM `payment_methods` WHERE external_id = \\? ORDER BY `payment_methods`.`id` LIMIT").
		WillReturnRows(sqlmock.NewRows(paymentMethodColumns).
			AddRow("stored-id", testUserID, "pm_visa", "visa", "4242", 4, 2031, true))

	method := &models.PaymentMethod{UserID: testUserID, ExternalID: "pm_visa"}
	created, err := repo.CreatePaymentMethodIfNotExists(ctx, method)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "stored-id", method.ID)
	assert.True(t, method.IsDefault)
	assert.Equal(t, 2031, method.CardExpYear)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachPaymentMethodAgainOverGorm(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		wantErr error
	}{
		{name: "same user gets the stored row", owner: testUserID},
		{name: "card of another user is not found", owner: otherUserID, wantErr: billing.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			gw := billingtest.NewGateway()
			gw.Cards["pm_visa"] = &billing.CardDetails{Brand: "visa", Last4: "4242", ExpMonth: 4, ExpYear: 2031}
			svc := billing.NewServiceFromDB(db, gw)

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT \\* FROM `payment_methods` WHERE user_id = \\?").
				WithArgs(testUserID).
				WillReturnRows(sqlmock.NewRows(paymentMethodColumns))
			mock.ExpectExec("INSERT INTO `payment_methods` .* ON DUPLICATE KEY UPDATE").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery("SELECT \\* FROM `payment_methods` WHERE external_id = \\? ORDER BY").
				WillReturnRows(sqlmock.NewRows(paymentMethodColumns).
					AddRow("stored-id", tt.owner, "pm_visa", "visa", "4242", 4, 2031, true))
			if tt.wantErr != nil {
				mock.ExpectRollback()
			} else {
				mock.ExpectCommit()
			}

			method, err := svc.AttachPaymentMethod(context.Background(), testUserID, "pm_visa")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AttachPaymentMethod() error = %v, want %v", err, tt.wantErr)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, "stored-id", method.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCloseActiveUserSubscriptions(t *testing.T) {
	tests := []struct {
		name          string
		paymentStatus string
		query         string
		args          []driver.Value
	}{
		{
			name:  "keeps payment status",
			query: "UPDATE `user_subscriptions` SET `active_user_id`=\\?,`ends_at`=\\?,`is_active`=\\?,`updated_at`=\\? WHERE user_id = \\? AND is_active = \\?",
			args:  []driver.Value{nil, sqlmock.AnyArg(), false, sqlmock.AnyArg(), testUserID, true},
		},
		{
			name:          "records payment status",
			paymentStatus: models.PaymentStatusCanceled,
			query:         "UPDATE `user_subscriptions` SET `active_user_id`=\\?,`ends_at`=\\?,`is_active`=\\?,`payment_status`=\\?,`updated_at`=\\? WHERE user_id = \\? AND is_active = \\?",
			args:          []driver.Value{nil, sqlmock.AnyArg(), false, models.PaymentStatusCanceled, sqlmock.AnyArg(), testUserID, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			mock.ExpectExec(tt.query).WithArgs(tt.args...).WillReturnResult(sqlmock.NewResult(0, 1))

			n, err := repo.CloseActiveUserSubscriptions(context.Background(), testUserID, time.Now(), tt.paymentStatus)
			require.NoError(t, err)
			if n != 1 {
				t.Fatalf("CloseActiveUserSubscriptions() closed %d rows, want 1", n)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindPendingUserSubscription(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `user_subscriptions` WHERE user_id = \\? AND subscription_id = \\? AND is_active = \\? AND ends_at IS NULL AND payment_status = \\? ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "subscription_id", "is_active", "payment_status"}).
			AddRow("sub-1", testUserID, "plan-1", false, models.PaymentStatusPending))
	mock.ExpectQuery("SELECT \\* FROM `user_subscriptions` WHERE user_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sub, err := repo.FindPendingUserSubscription(context.Background(), testUserID, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.False(t, sub.IsActive)

	_, err = repo.FindPendingUserSubscription(context.Background(), testUserID, "plan-2")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStalePendingIntents(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT \\* FROM `payment_intents` WHERE status = \\? AND updated_at < \\? AND created_at > \\? ORDER BY updated_at ASC LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "status"}).
			AddRow("intent-1", "pi_1", models.PaymentStatusPending).
			AddRow("intent-2", "pi_2", models.PaymentStatusPending))

	now := time.Now()
	intents, err := repo.ListStalePendingIntents(context.Background(), now.Add(-15*time.Minute), now.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "pi_1", intents[0].ExternalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateClosesPreviousBeforeInsertingOverGorm(t *testing.T) {
	db, mock := newMockDB(t)
	svc := billing.NewServiceFromDB(db, billingtest.NewGateway())

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `subscription_plans` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active"}).AddRow("plan-2", "Pro", true))
	mock.ExpectExec("UPDATE `user_subscriptions` SET `active_user_id`=\\?,.* WHERE user_id = \\? AND is_active = \\?").
		WithArgs(nil, sqlmock.AnyArg(), false, sqlmock.AnyArg(), testUserID, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM `user_subscriptions` WHERE user_id = \\? AND subscription_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `user_subscriptions`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sub, err := svc.Activate(context.Background(), testUserID, "plan-2")
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
	require.NotNil(t, sub.ActiveUserID)
	assert.Equal(t, testUserID, *sub.ActiveUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateRollsBackWhenActiveSlotIsTaken(t *testing.T) {
	db, mock := newMockDB(t)
	svc := billing.NewServiceFromDB(db, billingtest.NewGateway())
	dupErr := errors.New("Error 1062 (23000): Duplicate entry for key 'ux_user_subscriptions_active_user'")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `subscription_plans` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active"}).AddRow("plan-2", "Pro", true))
	mock.ExpectExec("UPDATE `user_subscriptions`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `user_subscriptions`").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `user_subscriptions`").WillReturnError(dupErr)
	mock.ExpectRollback()

	_, err := svc.Activate(context.Background(), testUserID, "plan-2")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
