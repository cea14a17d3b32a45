package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stashpoint/settled/app/models"
	"github.com/stashpoint/settled/internal/pkg/database"
	metrics "github.com/stashpoint/settled/internal/pkg/metrics/counter"
	"github.com/stashpoint/settled/internal/pkg/webhook"
)

const signatureHeader = "X-Settle-Signature"

// HandlePayoutChangedWebhook ingests provider payout notifications.
func HandlePayoutChangedWebhook(c *fiber.Ctx) error {
	return handleWebhook(c, models.WebhookEventTypePayoutChanged)
}

// HandleSellerChangedWebhook ingests provider seller onboarding notifications.
func HandleSellerChangedWebhook(c *fiber.Ctx) error {
	return handleWebhook(c, models.WebhookEventTypeSellerChanged)
}

func handleWebhook(c *fiber.Ctx, wantType string) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(signatureHeader)

	pipeline := webhook.NewPipelineFromEnv(database.GetDB())
	outcome, err := pipeline.Handle(rawBody, signature, wantType)
	if err != nil {
		// The event was not consumed; the provider may safely redeliver.
		_ = metrics.AddWebhookOutcome("errored")
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	_ = metrics.AddWebhookOutcome(string(outcome.Code))
	switch outcome.Code {
	case webhook.OutcomeApplied:
		return c.Status(fiber.StatusOK).SendString("ok")
	case webhook.OutcomeDuplicate:
		return c.Status(fiber.StatusConflict).SendString("duplicate")
	default:
		return c.Status(rejectionStatus(outcome.Reason)).SendString(outcome.Reason)
	}
}

// rejectionStatus maps pipeline rejection reasons onto boundary codes:
// signature failures are auth errors, stale/conflicting events signal the
// provider with 409, unknown targets with 404, malformed input with 400.
func rejectionStatus(reason string) int {
	switch reason {
	case "invalid signature":
		return fiber.StatusUnauthorized
	case "stale event", "status conflict":
		return fiber.StatusConflict
	case "unknown settlement", "unknown seller":
		return fiber.StatusNotFound
	default:
		return fiber.StatusBadRequest
	}
}

// HandleWebhookHealth reports ingestion liveness plus outcome counters.
func HandleWebhookHealth(c *fiber.Ctx) error {
	body := fiber.Map{"status": "ok"}

	if db := database.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
	} else {
		body["status"] = "degraded"
		body["database"] = "not configured"
	}

	if counters, err := metrics.Snapshot(); err == nil {
		body["counters"] = counters
	}

	status := fiber.StatusOK
	if body["status"] != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(body)
}
