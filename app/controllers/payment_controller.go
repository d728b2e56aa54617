package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
	"github.com/ManuelReschke/PayMirror/internal/pkg/usercontext"
)

const webhookTimeout = 15 * time.Second

// PaymentController serves the /payments routes.
type PaymentController struct {
	svc      *billing.Service
	verifier billing.Verifier
}

func NewPaymentController(svc *billing.Service, verifier billing.Verifier) *PaymentController {
	return &PaymentController{svc: svc, verifier: verifier}
}

type createIntentRequest struct {
	SubscriptionID  string `json:"subscription_id" validate:"required"`
	BillingInterval string `json:"billing_interval" validate:"omitempty,oneof=month year"`
}

// HandleCreateIntent starts a gateway payment for a plan.
// Request: JSON { "subscription_id": string, "billing_interval": "month"|"year" }
func (pc *PaymentController) HandleCreateIntent(c *fiber.Ctx) error {
	var req createIntentRequest
	if err := bindJSON(c, &req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	intent, err := pc.svc.CreatePaymentForPlan(c.UserContext(), usercontext.GetUserID(c), req.SubscriptionID, req.BillingInterval)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(intent)
}

func (pc *PaymentController) HandleGetStatus(c *fiber.Ctx) error {
	intent, err := pc.svc.GetPayment(c.UserContext(), usercontext.GetUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(intent)
}

type attachMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

func (pc *PaymentController) HandleAttachMethod(c *fiber.Ctx) error {
	var req attachMethodRequest
	if err := bindJSON(c, &req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	method, err := pc.svc.AttachPaymentMethod(c.UserContext(), usercontext.GetUserID(c), req.PaymentMethodID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(method)
}

// HandleListMethods returns all stored methods and the default one (or null).
func (pc *PaymentController) HandleListMethods(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	methods, err := pc.svc.ListPaymentMethods(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}

	var def *models.PaymentMethod
	for i := range methods {
		if methods[i].IsDefault {
			def = &methods[i]
			break
		}
	}
	return c.JSON(fiber.Map{"payment_methods": methods, "default": def})
}

func (pc *PaymentController) HandleSetDefaultMethod(c *fiber.Ctx) error {
	if err := pc.svc.SetDefaultPaymentMethod(c.UserContext(), usercontext.GetUserID(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleHistory returns the user's ledger, newest first.
// Query: page (default 1), per_page (default 10, max 100)
func (pc *PaymentController) HandleHistory(c *fiber.Ctx) error {
	page, err := pc.svc.ListPaymentHistory(c.UserContext(), usercontext.GetUserID(c), queryInt(c, "page"), queryInt(c, "per_page"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// HandleWebhook verifies and applies a gateway notification. Every 2xx tells
// the gateway to stop redelivering, so only failures that a retry can fix
// return 5xx.
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ev, err := pc.verifier.VerifyAndDecode(rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrAuthenticationFailed) {
			fiberlog.Warnf("[Webhook] Rejected webhook from %s: %v", c.IP(), err)
			return errorJSON(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
		}
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be decoded")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res, err := pc.svc.HandleEvent(ctx, ev)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"ok": true, "status": res})
	case errors.Is(err, billing.ErrConflictingOutcome):
		return c.JSON(fiber.Map{"ok": true, "status": "conflict"})
	default:
		fiberlog.Errorf("[Webhook] Failed to apply event %s (%s): %v", ev.ID, ev.Type, err)
		return errorJSON(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Event could not be applied, retry later")
	}
}
