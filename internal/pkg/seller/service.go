package seller

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/stashpoint/settled/app/models"
	"github.com/stashpoint/settled/app/repository"
	"github.com/stashpoint/settled/internal/pkg/apperr"
)

// allowedTransitions is the explicit onboarding state table. Rejection and
// suspension are reachable while the provider has not approved the seller;
// a partial approval may still be upgraded to full approval.
var allowedTransitions = map[string][]string{
	models.SellerStatusApprovalRequired: {
		models.SellerStatusKYCRequired,
		models.SellerStatusApproved,
		models.SellerStatusPartiallyApproved,
		models.SellerStatusRejected,
		models.SellerStatusSuspended,
	},
	models.SellerStatusKYCRequired: {
		models.SellerStatusApproved,
		models.SellerStatusPartiallyApproved,
		models.SellerStatusRejected,
		models.SellerStatusSuspended,
	},
	models.SellerStatusPartiallyApproved: {
		models.SellerStatusApproved,
	},
	models.SellerStatusApproved:  {},
	models.SellerStatusRejected:  {},
	models.SellerStatusSuspended: {},
}

// CanTransition reports whether the onboarding table allows from -> to.
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether s is a known onboarding status.
func IsValidStatus(s string) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Service owns the seller onboarding record and its provider registration state.
type Service struct {
	sellers repository.SellerRepository
	stores  repository.StoreRepository
}

// NewService creates a seller onboarding service from injected repositories.
func NewService(sellers repository.SellerRepository, stores repository.StoreRepository) *Service {
	return &Service{sellers: sellers, stores: stores}
}

// NewServiceFromDB creates a seller onboarding service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(repository.NewSellerRepository(db), repository.NewStoreRepository(db))
}

// Register starts provider onboarding for a store. At most one onboarding
// record may exist per store; a second registration is a validation failure.
func (s *Service) Register(ctx context.Context, storeID uint, businessType string) (*models.SellerOnboarding, error) {
	_ = ctx
	if businessType != models.BusinessTypeIndividual && businessType != models.BusinessTypeCorporate {
		return nil, apperr.Validation("invalid registration", map[string]string{
			"business_type": "business type must be INDIVIDUAL or CORPORATE",
		})
	}

	exists, err := s.stores.Exists(storeID)
	if err != nil {
		return nil, apperr.Processing("store lookup", true, err)
	}
	if !exists {
		return nil, apperr.NotFound("store", strconv.FormatUint(uint64(storeID), 10))
	}

	if _, err := s.sellers.GetByStoreID(storeID); err == nil {
		return nil, apperr.Validation("seller already registered", map[string]string{
			"store_id": "an onboarding record already exists for this store",
		})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Processing("seller lookup", true, err)
	}

	rec := &models.SellerOnboarding{
		StoreID:      storeID,
		BusinessType: businessType,
		Status:       models.SellerStatusApprovalRequired,
		RegisteredAt: time.Now(),
	}
	if err := s.sellers.Create(rec); err != nil {
		return nil, apperr.Processing("seller create", true, err)
	}
	return rec, nil
}

// GetByStoreID loads an onboarding record, translating missing rows.
func (s *Service) GetByStoreID(ctx context.Context, storeID uint) (*models.SellerOnboarding, error) {
	_ = ctx
	rec, err := s.sellers.GetByStoreID(storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("seller onboarding", strconv.FormatUint(uint64(storeID), 10))
		}
		return nil, apperr.Processing("seller lookup", true, err)
	}
	return rec, nil
}

// AssignProviderID binds the provider's seller id. The assignment is one-way:
// re-assigning the same id is a no-op, a different id is a conflict.
func (s *Service) AssignProviderID(ctx context.Context, rec *models.SellerOnboarding, providerSellerID string) error {
	_ = ctx
	if providerSellerID == "" {
		return apperr.Validation("invalid provider seller id", map[string]string{
			"provider_seller_id": "provider seller id is required",
		})
	}
	if rec.ProviderSellerID == providerSellerID {
		return nil
	}
	if rec.ProviderSellerID != "" {
		return apperr.Conflict(rec.RefSellerID(), rec.Status, "assign provider id")
	}

	ok, err := s.sellers.UpdateGuarded(rec, map[string]interface{}{
		"provider_seller_id": providerSellerID,
	})
	if err != nil {
		return apperr.Processing("seller update", true, err)
	}
	if !ok {
		current, err := s.sellers.GetByStoreID(rec.StoreID)
		if err != nil {
			return apperr.Processing("seller reload", true, err)
		}
		*rec = *current
		if current.ProviderSellerID == providerSellerID {
			return nil
		}
		return apperr.Conflict(rec.RefSellerID(), current.Status, "assign provider id")
	}
	return nil
}

// UpdateStatus moves the record along the transition table. An identical
// status no-ops; anything outside the table is a conflict carrying both
// sides for diagnostics.
func (s *Service) UpdateStatus(ctx context.Context, rec *models.SellerOnboarding, next string) error {
	_ = ctx
	if !IsValidStatus(next) {
		return apperr.Validation("unknown onboarding status", map[string]string{
			"status": "unknown status " + next,
		})
	}
	if rec.Status == next {
		return nil
	}
	if !CanTransition(rec.Status, next) {
		return apperr.Conflict(rec.RefSellerID(), rec.Status, "update status to "+next)
	}

	updates := map[string]interface{}{"status": next}
	if next == models.SellerStatusApproved || next == models.SellerStatusPartiallyApproved {
		now := time.Now()
		updates["approved_at"] = &now
	}

	ok, err := s.sellers.UpdateGuarded(rec, updates)
	if err != nil {
		return apperr.Processing("seller update", true, err)
	}
	if !ok {
		current, err := s.sellers.GetByStoreID(rec.StoreID)
		if err != nil {
			return apperr.Processing("seller reload", true, err)
		}
		*rec = *current
		if current.Status == next {
			return nil
		}
		return apperr.Conflict(rec.RefSellerID(), current.Status, "update status to "+next)
	}
	return nil
}
