package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayMirror/app/models"
	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
	"github.com/ManuelReschke/PayMirror/internal/pkg/usercontext"
)

// SubscriptionController serves the plan catalog and the user's entitlement.
type SubscriptionController struct {
	svc *billing.Service
}

func NewSubscriptionController(svc *billing.Service) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

// planResponse exposes features as a plain string list.
type planResponse struct {
	models.SubscriptionPlan
	Features []string `json:"features"`
}

func newPlanResponse(plan models.SubscriptionPlan) planResponse {
	features := plan.FeatureList()
	if features == nil {
		features = []string{}
	}
	return planResponse{SubscriptionPlan: plan, Features: features}
}

func (sc *SubscriptionController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := sc.svc.ListPlans(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	return c.JSON(fiber.Map{"subscriptions": out})
}

func (sc *SubscriptionController) HandleGetPlan(c *fiber.Ctx) error {
	plan, err := sc.svc.GetPlan(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(newPlanResponse(*plan))
}

func (sc *SubscriptionController) HandleGetUserSubscription(c *fiber.Ctx) error {
	sub, err := sc.svc.GetActiveSubscription(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

type subscribeRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
}

// HandleSubscribe records a pending entitlement; it becomes active once the
// matching payment succeeds.
func (sc *SubscriptionController) HandleSubscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := bindJSON(c, &req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	sub, err := sc.svc.Subscribe(c.UserContext(), usercontext.GetUserID(c), req.SubscriptionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (sc *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	sub, err := sc.svc.Cancel(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}
