package settlement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stashpoint/settled/app/models"
	"github.com/stashpoint/settled/app/repository"
	"github.com/stashpoint/settled/internal/pkg/apperr"
)

// Service owns the settlement record state machine and its fee arithmetic.
// All writes go through version-guarded updates so a webhook apply and a
// retry attempt racing on the same record resolve deterministically.
type Service struct {
	settlements repository.SettlementRepository
	stores      repository.StoreRepository
}

// NewService creates a settlement service from injected repositories.
func NewService(settlements repository.SettlementRepository, stores repository.StoreRepository) *Service {
	return &Service{settlements: settlements, stores: stores}
}

// NewServiceFromDB creates a settlement service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(repository.NewSettlementRepository(db), repository.NewStoreRepository(db))
}

// CreateInput carries the order-completion data a settlement is derived from.
type CreateInput struct {
	StoreID uint
	OrderID string
	Amount  decimal.Decimal
	FeeRate decimal.Decimal
}

// Create computes the fee split and persists a PENDING settlement. It is
// idempotent on the order id: a second call returns the existing record
// without recomputing anything, even under concurrent creation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.SettlementRecord, error) {
	_ = ctx
	if in.OrderID == "" {
		return nil, apperr.Validation("invalid settlement request", map[string]string{
			"order_id": "order id is required",
		})
	}

	// Idempotency wins over validation: a replayed create for a settled
	// order returns the stored record even when the replay is malformed.
	if existing, err := s.settlements.GetByOrderID(in.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Processing("settlement lookup", true, err)
	}

	fields := map[string]string{}
	if !in.Amount.IsPositive() {
		fields["amount"] = "amount must be greater than zero"
	}
	if in.FeeRate.IsNegative() || in.FeeRate.GreaterThan(decimal.NewFromInt(1)) {
		fields["fee_rate"] = "fee rate must be between 0 and 1"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid settlement request", fields)
	}

	exists, err := s.stores.Exists(in.StoreID)
	if err != nil {
		return nil, apperr.Processing("store lookup", true, err)
	}
	if !exists {
		return nil, apperr.NotFound("store", uintID(in.StoreID))
	}

	fee := models.ComputePlatformFee(in.Amount, in.FeeRate)
	rec := &models.SettlementRecord{
		UUID:             uuid.NewString(),
		StoreID:          in.StoreID,
		OrderID:          in.OrderID,
		OriginalAmount:   in.Amount,
		PlatformFeeRate:  in.FeeRate,
		PlatformFee:      fee,
		SettlementAmount: in.Amount.Sub(fee),
		Status:           models.SettlementStatusPending,
		RequestedAt:      time.Now(),
	}
	if err := s.settlements.Create(rec); err != nil {
		// A concurrent creator may have won the unique order id; return its row.
		if existing, lookupErr := s.settlements.GetByOrderID(in.OrderID); lookupErr == nil {
			return existing, nil
		}
		return nil, apperr.Processing("settlement create", true, err)
	}
	return rec, nil
}

// GetByOrderID loads a settlement, translating missing rows into the taxonomy.
func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*models.SettlementRecord, error) {
	_ = ctx
	rec, err := s.settlements.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("settlement", orderID)
		}
		return nil, apperr.Processing("settlement lookup", true, err)
	}
	return rec, nil
}

// MarkProcessing transitions PENDING -> PROCESSING ahead of a first
// submission. Any other starting state is a conflict.
func (s *Service) MarkProcessing(ctx context.Context, rec *models.SettlementRecord) error {
	_ = ctx
	if rec.Status != models.SettlementStatusPending {
		return apperr.Conflict(rec.OrderID, rec.Status, "mark processing")
	}
	return s.transition(rec, "mark processing", map[string]interface{}{
		"status": models.SettlementStatusProcessing,
	}, models.SettlementStatusProcessing)
}

// ClaimForRetry moves a FAILED record back to PROCESSING so exactly one
// coordinator pass owns the resubmission, snapshotting the seller id the
// attempt will pay out to. The version guard makes a second claimant lose;
// the loser treats the record as taken and moves on.
func (s *Service) ClaimForRetry(ctx context.Context, rec *models.SettlementRecord, providerSellerID string) error {
	_ = ctx
	if !rec.IsRetryEligible() {
		return apperr.Conflict(rec.OrderID, rec.Status, "claim for retry")
	}
	// No no-op fallback here: a loser finding the record already PROCESSING
	// means someone else owns the attempt, so it must still back off.
	ok, err := s.settlements.UpdateGuarded(rec, map[string]interface{}{
		"status":             models.SettlementStatusProcessing,
		"provider_seller_id": providerSellerID,
	})
	if err != nil {
		return apperr.Processing("settlement update", true, err)
	}
	if !ok {
		return apperr.Conflict(rec.OrderID, rec.Status, "claim for retry")
	}
	return nil
}

// Complete transitions PENDING|PROCESSING -> COMPLETED and stamps CompletedAt.
func (s *Service) Complete(ctx context.Context, rec *models.SettlementRecord, providerPayoutID string) error {
	_ = ctx
	if rec.Status != models.SettlementStatusPending &&
		rec.Status != models.SettlementStatusProcessing {
		return apperr.Conflict(rec.OrderID, rec.Status, "complete")
	}
	now := time.Now()
	return s.transition(rec, "complete", map[string]interface{}{
		"status":             models.SettlementStatusCompleted,
		"provider_payout_id": providerPayoutID,
		"error_message":      "",
		"completed_at":       &now,
	}, models.SettlementStatusCompleted)
}

// Fail moves any non-terminal record to FAILED, recording the message and
// bumping the retry counter (capped at the retry limit). manualReview marks
// non-retryable provider failures for operator resolution.
func (s *Service) Fail(ctx context.Context, rec *models.SettlementRecord, message string, manualReview bool) error {
	_ = ctx
	if rec.IsTerminal() {
		return apperr.Conflict(rec.OrderID, rec.Status, "fail")
	}
	nextRetry := rec.RetryCount + 1
	if nextRetry > models.MaxSettlementRetries {
		nextRetry = models.MaxSettlementRetries
	}
	now := time.Now()
	return s.transition(rec, "fail", map[string]interface{}{
		"status":         models.SettlementStatusFailed,
		"error_message":  message,
		"retry_count":    nextRetry,
		"manual_review":  rec.ManualReview || manualReview,
		"last_failed_at": &now,
	}, models.SettlementStatusFailed)
}

// Cancel is the operator short-circuit, allowed only from PENDING or FAILED.
func (s *Service) Cancel(ctx context.Context, rec *models.SettlementRecord) error {
	_ = ctx
	if rec.Status != models.SettlementStatusPending &&
		rec.Status != models.SettlementStatusFailed {
		return apperr.Conflict(rec.OrderID, rec.Status, "cancel")
	}
	return s.transition(rec, "cancel", map[string]interface{}{
		"status": models.SettlementStatusCancelled,
	}, models.SettlementStatusCancelled)
}

// ListRetryEligible returns FAILED records still inside the retry budget.
func (s *Service) ListRetryEligible(ctx context.Context, limit int) ([]models.SettlementRecord, error) {
	_ = ctx
	return s.settlements.ListRetryEligible(limit)
}

// ListManualReview returns records flagged for operator resolution.
func (s *Service) ListManualReview(ctx context.Context, offset, limit int) ([]models.SettlementRecord, error) {
	_ = ctx
	return s.settlements.ListManualReview(offset, limit)
}

// transition runs the guarded update. When the guard loses, the record is
// reloaded: a loser whose desired state already holds no-ops, anyone else
// observes a conflict.
func (s *Service) transition(rec *models.SettlementRecord, action string, updates map[string]interface{}, wantStatus string) error {
	ok, err := s.settlements.UpdateGuarded(rec, updates)
	if err != nil {
		return apperr.Processing("settlement update", true, err)
	}
	if ok {
		return nil
	}

	current, err := s.settlements.GetByID(rec.ID)
	if err != nil {
		return apperr.Processing("settlement reload", true, err)
	}
	*rec = *current
	if current.Status == wantStatus {
		return nil
	}
	return apperr.Conflict(rec.OrderID, current.Status, action)
}

func uintID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
