package apperr

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// providerMessages maps provider error codes to user-safe text. Codes outside
// the map fall back to a generic message so raw provider detail never leaks.
var providerMessages = map[string]string{
	"SELLER_NOT_READY":    "The seller account is not ready for payouts yet",
	"DESTINATION_INVALID": "The payout destination is invalid",
	"PAYOUT_REJECTED":     "The provider rejected the payout request",
	"RATE_LIMITED":        "The provider is throttling requests, try again later",
}

// Respond is the single translation point from internal failures to HTTP
// responses. Controllers call it at every boundary exit; internal diagnostics
// (wrapped causes, stack detail) are logged but never serialized.
func Respond(c *fiber.Ctx, err error) error {
	e := From(err)

	switch e.Kind {
	case KindValidation:
		body := fiber.Map{"error": "validation_failed", "message": e.Message}
		if len(e.Fields) > 0 {
			body["fields"] = e.Fields
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)

	case KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":     "not_found",
			"message":   e.Message,
			"entity_id": e.EntityID,
		})

	case KindStatusConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":            "status_conflict",
			"message":          e.Message,
			"entity_id":        e.EntityID,
			"current_status":   e.CurrentStatus,
			"requested_action": e.RequestedAction,
		})

	case KindProvider:
		msg, ok := providerMessages[e.ProviderCode]
		if !ok {
			msg = "The payout provider could not process the request"
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":         "provider_error",
			"message":       msg,
			"provider_code": e.ProviderCode,
		})

	case KindInsufficientBalance:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":     "insufficient_balance",
			"message":   "Insufficient balance for payout, manual resolution required",
			"requested": e.RequestedAmount,
			"available": e.AvailableAmount,
			"retryable": false,
		})

	case KindProcessing:
		log.Errorf("[apperr] processing failure at stage %s (retryable=%t): %v", e.Stage, e.Retryable, err)
		status := fiber.StatusInternalServerError
		if e.Retryable {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"error":     "processing_error",
			"stage":     e.Stage,
			"retryable": e.Retryable,
		})

	default:
		log.Errorf("[apperr] unhandled error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}
