package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	SettlementStatusPending    = "PENDING"
	SettlementStatusProcessing = "PROCESSING"
	SettlementStatusCompleted  = "COMPLETED"
	SettlementStatusFailed     = "FAILED"
	SettlementStatusCancelled  = "CANCELLED"
)

// MaxSettlementRetries caps how often a failed settlement may be resubmitted.
// A record at the cap stays FAILED but drops out of the retry-eligible set.
const MaxSettlementRetries = 3

// SettlementRecord tracks the platform fee and merchant payout for one
// completed order. Amounts are minor units carried as decimals; the derived
// fee / payout split is computed once at creation and never changes.
type SettlementRecord struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UUID             string          `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	StoreID          uint            `gorm:"not null;index" json:"store_id" validate:"required"`
	OrderID          string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id" validate:"required,max=64"`
	OriginalAmount   decimal.Decimal `gorm:"type:decimal(20,0);not null" json:"original_amount"`
	PlatformFeeRate  decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"platform_fee_rate"`
	PlatformFee      decimal.Decimal `gorm:"type:decimal(20,0);not null" json:"platform_fee"`
	SettlementAmount decimal.Decimal `gorm:"type:decimal(20,0);not null" json:"settlement_amount"`
	Status           string          `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ProviderPayoutID string          `gorm:"type:varchar(191);default:''" json:"provider_payout_id"`
	ProviderSellerID string          `gorm:"type:varchar(191);default:''" json:"provider_seller_id"`
	ErrorMessage     string          `gorm:"type:text" json:"error_message"`
	ManualReview     bool            `gorm:"default:false;index" json:"manual_review"`
	RetryCount       int             `gorm:"not null;default:0" json:"retry_count"`
	Version          int             `gorm:"not null;default:0" json:"-"`
	RequestedAt      time.Time       `gorm:"type:timestamp;not null" json:"requested_at"`
	CompletedAt      *time.Time      `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	LastFailedAt     *time.Time      `gorm:"type:timestamp;default:null" json:"last_failed_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *SettlementRecord) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// ComputePlatformFee derives the fee in minor units, rounding half away from
// zero to zero decimal places so the fee plus payout always equals the
// original amount exactly.
func ComputePlatformFee(amount, feeRate decimal.Decimal) decimal.Decimal {
	return amount.Mul(feeRate).Round(0)
}

// IsTerminal reports whether no further transition is possible.
func (s *SettlementRecord) IsTerminal() bool {
	return s.Status == SettlementStatusCompleted || s.Status == SettlementStatusCancelled
}

// IsRetryEligible reports whether the retry coordinator may pick this record
// up again. Eligibility is a predicate, not a status: records at the retry
// cap or flagged for manual review stay FAILED but are never re-attempted.
func (s *SettlementRecord) IsRetryEligible() bool {
	return s.Status == SettlementStatusFailed &&
		s.RetryCount < MaxSettlementRetries &&
		!s.ManualReview
}
