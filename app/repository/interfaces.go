package repository

import (
	"time"

	"github.com/stashpoint/settled/app/models"
	"gorm.io/gorm"
)

// SettlementRepository defines the database operations for settlement records.
// Every status transition goes through UpdateGuarded so concurrent writers
// resolve through the version counter instead of overwriting each other.
type SettlementRepository interface {
	Create(rec *models.SettlementRecord) error
	GetByID(id uint) (*models.SettlementRecord, error)
	GetByUUID(uuid string) (*models.SettlementRecord, error)
	GetByOrderID(orderID string) (*models.SettlementRecord, error)
	// UpdateGuarded applies updates only when the stored version still matches
	// rec.Version, incrementing the version in the same statement. Returns
	// false when a concurrent writer won the race.
	UpdateGuarded(rec *models.SettlementRecord, updates map[string]interface{}) (bool, error)
	ListRetryEligible(limit int) ([]models.SettlementRecord, error)
	ListManualReview(offset, limit int) ([]models.SettlementRecord, error)
	// ListStaleProcessing finds records stuck in PROCESSING since before
	// cutoff (e.g. a crashed submission attempt) so they can be failed back
	// into the retryable set.
	ListStaleProcessing(cutoff time.Time, limit int) ([]models.SettlementRecord, error)
}

// SellerRepository defines the database operations for seller onboarding records.
type SellerRepository interface {
	Create(rec *models.SellerOnboarding) error
	GetByStoreID(storeID uint) (*models.SellerOnboarding, error)
	UpdateGuarded(rec *models.SellerOnboarding, updates map[string]interface{}) (bool, error)
}

// WebhookEventRepository defines the durable dedup set for inbound events.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless its event id is already
	// present. Returns created=false with the stored row when it is.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// StoreRepository is the read-only collaborator lookup for stores.
type StoreRepository interface {
	GetByID(id uint) (*models.Store, error)
	Exists(id uint) (bool, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Settlement   SettlementRepository
	Seller       SellerRepository
	WebhookEvent WebhookEventRepository
	Store        StoreRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Settlement:   NewSettlementRepository(db),
		Seller:       NewSellerRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Store:        NewStoreRepository(db),
	}
}
