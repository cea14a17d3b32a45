package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/stashpoint/settled/internal/pkg/apperr"
	"github.com/stashpoint/settled/internal/pkg/database"
	"github.com/stashpoint/settled/internal/pkg/settlement"
)

// CreateSettlementRequest is posted by the order-completion collaborator.
type CreateSettlementRequest struct {
	StoreID uint   `json:"store_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required,max=64"`
	Amount  string `json:"amount" validate:"required"`
	FeeRate string `json:"fee_rate" validate:"required"`
}

// HandleCreateSettlement creates (or idempotently returns) the settlement
// for a completed order.
func HandleCreateSettlement(c *fiber.Ctx) error {
	var req CreateSettlementRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Respond(c, apperr.Validation("malformed request body", nil))
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return apperr.Respond(c, apperr.Validation("invalid settlement request", map[string]string{
			"amount": "amount must be a decimal number",
		}))
	}
	feeRate, err := decimal.NewFromString(req.FeeRate)
	if err != nil {
		return apperr.Respond(c, apperr.Validation("invalid settlement request", map[string]string{
			"fee_rate": "fee rate must be a decimal number",
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := settlement.NewServiceFromDB(database.GetDB())
	rec, err := svc.Create(ctx, settlement.CreateInput{
		StoreID: req.StoreID,
		OrderID: req.OrderID,
		Amount:  amount,
		FeeRate: feeRate,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// HandleGetSettlement returns the settlement for an order id.
func HandleGetSettlement(c *fiber.Ctx) error {
	orderID := c.Params("orderId")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := settlement.NewServiceFromDB(database.GetDB())
	rec, err := svc.GetByOrderID(ctx, orderID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(rec)
}

// HandleCancelSettlement is the operator short-circuit for a pending or
// failed settlement.
func HandleCancelSettlement(c *fiber.Ctx) error {
	orderID := c.Params("orderId")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := settlement.NewServiceFromDB(database.GetDB())
	rec, err := svc.GetByOrderID(ctx, orderID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	if err := svc.Cancel(ctx, rec); err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(rec)
}

// HandleListManualReview lists settlements flagged for operator resolution.
func HandleListManualReview(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := settlement.NewServiceFromDB(database.GetDB())
	recs, err := svc.ListManualReview(ctx, offset, limit)
	if err != nil {
		return apperr.Respond(c, apperr.Processing("manual review list", true, err))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"settlements": recs,
		"offset":      offset,
		"limit":       limit,
	})
}
