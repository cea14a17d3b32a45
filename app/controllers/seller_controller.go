package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stashpoint/settled/app/repository"
	"github.com/stashpoint/settled/internal/pkg/apperr"
	"github.com/stashpoint/settled/internal/pkg/database"
	"github.com/stashpoint/settled/internal/pkg/provider"
	"github.com/stashpoint/settled/internal/pkg/seller"
)

// RegisterSellerRequest starts provider onboarding for a store.
type RegisterSellerRequest struct {
	StoreID      uint   `json:"store_id" validate:"required"`
	BusinessType string `json:"business_type" validate:"oneof=INDIVIDUAL CORPORATE"`
}

// HandleRegisterSeller creates the 1:1 onboarding record for a store.
func HandleRegisterSeller(c *fiber.Ctx) error {
	var req RegisterSellerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Respond(c, apperr.Validation("malformed request body", nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := seller.NewServiceFromDB(database.GetDB())
	rec, err := svc.Register(ctx, req.StoreID, req.BusinessType)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// HandleGetSeller returns the onboarding record for a store.
func HandleGetSeller(c *fiber.Ctx) error {
	storeID, err := storeIDParam(c)
	if err != nil {
		return apperr.Respond(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := seller.NewServiceFromDB(database.GetDB())
	rec, err := svc.GetByStoreID(ctx, storeID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"seller":              rec,
		"can_process_payout":  rec.CanProcessPayout(),
		"is_pending_approval": rec.IsPendingApproval(),
	})
}

// HandleSubmitSeller registers the seller with the payout provider and binds
// the returned provider seller id. The ref seller id keeps the provider call
// idempotent, so resubmitting resolves to the same provider-side seller.
func HandleSubmitSeller(c *fiber.Ctx) error {
	storeID, err := storeIDParam(c)
	if err != nil {
		return apperr.Respond(c, err)
	}

	db := database.GetDB()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	svc := seller.NewServiceFromDB(db)
	rec, err := svc.GetByStoreID(ctx, storeID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	storeName := ""
	if store, err := repository.GetGlobalRepositories().Store.GetByID(storeID); err == nil {
		storeName = store.Name
	}

	client := provider.NewHTTPClientFromEnv()
	providerSellerID, err := client.RegisterSeller(ctx, provider.SellerDetails{
		RefSellerID:  rec.RefSellerID(),
		BusinessType: rec.BusinessType,
		StoreName:    storeName,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}

	if err := svc.AssignProviderID(ctx, rec, providerSellerID); err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(rec)
}

func storeIDParam(c *fiber.Ctx) (uint, error) {
	raw := c.Params("storeId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid store id", map[string]string{
			"store_id": "store id must be a positive integer",
		})
	}
	return uint(id), nil
}
