package controllers

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayMirror/internal/pkg/billing"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// respondError maps billing errors onto HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrInvalidInput):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, billing.ErrPlanNotFound):
		return errorJSON(c, fiber.StatusNotFound, "plan_not_found", "Subscription plan not found")
	case errors.Is(err, billing.ErrNoActiveSubscription):
		return errorJSON(c, fiber.StatusNotFound, "no_active_subscription", "No active subscription")
	case errors.Is(err, billing.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, billing.ErrUnsupportedPaymentMethod):
		return errorJSON(c, fiber.StatusUnprocessableEntity, "unsupported_payment_method", "Only card payment methods are supported")
	case errors.Is(err, billing.ErrUpstreamUnavailable):
		fiberlog.Warnf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Payment provider unavailable, please retry")
	default:
		fiberlog.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Internal server error")
	}
}

// bindJSON decodes the JSON body into req and runs its validate tags.
func bindJSON(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s failed %s validation", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// queryInt returns the query value as int, or 0 when missing or not a number.
func queryInt(c *fiber.Ctx, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return v
}
