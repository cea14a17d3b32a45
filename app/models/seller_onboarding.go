package models

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	SellerStatusApprovalRequired  = "APPROVAL_REQUIRED"
	SellerStatusKYCRequired       = "KYC_REQUIRED"
	SellerStatusApproved          = "APPROVED"
	SellerStatusPartiallyApproved = "PARTIALLY_APPROVED"
	SellerStatusRejected          = "REJECTED"
	SellerStatusSuspended         = "SUSPENDED"
)

const (
	BusinessTypeIndividual = "INDIVIDUAL"
	BusinessTypeCorporate  = "CORPORATE"
)

// SellerOnboarding tracks a store's registration and approval state with the
// external payout provider. Exactly one record exists per store; the store id
// doubles as the provider-facing idempotency reference.
type SellerOnboarding struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	StoreID          uint       `gorm:"not null;uniqueIndex" json:"store_id" validate:"required"`
	ProviderSellerID string     `gorm:"type:varchar(191);default:''" json:"provider_seller_id"`
	BusinessType     string     `gorm:"type:varchar(20);not null" json:"business_type" validate:"oneof=INDIVIDUAL CORPORATE"`
	Status           string     `gorm:"type:varchar(32);not null;default:'APPROVAL_REQUIRED';index" json:"status"`
	Version          int        `gorm:"not null;default:0" json:"-"`
	RegisteredAt     time.Time  `gorm:"type:timestamp;not null" json:"registered_at"`
	ApprovedAt       *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *SellerOnboarding) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// RefSellerID is the stable reference sent to the provider. It is the store
// id, so repeated registrations for the same store resolve to one seller.
func (s *SellerOnboarding) RefSellerID() string {
	return strconv.FormatUint(uint64(s.StoreID), 10)
}

// CanProcessPayout reports whether payouts may be requested for this seller.
func (s *SellerOnboarding) CanProcessPayout() bool {
	if s.ProviderSellerID == "" {
		return false
	}
	return s.Status == SellerStatusApproved || s.Status == SellerStatusPartiallyApproved
}

// IsPendingApproval reports whether the provider has not decided yet.
func (s *SellerOnboarding) IsPendingApproval() bool {
	return s.Status == SellerStatusApprovalRequired || s.Status == SellerStatusKYCRequired
}

// IsApproved reports whether the seller reached an approved state.
func (s *SellerOnboarding) IsApproved() bool {
	return s.Status == SellerStatusApproved || s.Status == SellerStatusPartiallyApproved
}
