package repository

import (
	"time"

	"github.com/stashpoint/settled/app/models"
	"gorm.io/gorm"
)

// settlementRepository implements the SettlementRepository interface
type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new settlement repository instance
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) Create(rec *models.SettlementRecord) error {
	return r.db.Create(rec).Error
}

func (r *settlementRepository) GetByID(id uint) (*models.SettlementRecord, error) {
	var rec models.SettlementRecord
	err := r.db.First(&rec, id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *settlementRepository) GetByUUID(uuid string) (*models.SettlementRecord, error) {
	var rec models.SettlementRecord
	err := r.db.Where("uuid = ?", uuid).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *settlementRepository) GetByOrderID(orderID string) (*models.SettlementRecord, error) {
	var rec models.SettlementRecord
	err := r.db.Where("order_id = ?", orderID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateGuarded performs the compare-and-increment write that serializes
// concurrent transitions on the same record. The version predicate makes the
// losing writer's UPDATE match zero rows.
func (r *settlementRepository) UpdateGuarded(rec *models.SettlementRecord, updates map[string]interface{}) (bool, error) {
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version"] = rec.Version + 1

	tx := r.db.Model(&models.SettlementRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(merged)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}

	// Refresh the in-memory copy so callers see the applied state.
	return true, r.db.First(rec, rec.ID).Error
}

func (r *settlementRepository) ListRetryEligible(limit int) ([]models.SettlementRecord, error) {
	var recs []models.SettlementRecord
	err := r.db.
		Where("status = ? AND retry_count < ? AND manual_review = ?",
			models.SettlementStatusFailed, models.MaxSettlementRetries, false).
		Order("last_failed_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *settlementRepository) ListStaleProcessing(cutoff time.Time, limit int) ([]models.SettlementRecord, error) {
	var recs []models.SettlementRecord
	err := r.db.
		Where("status = ? AND updated_at < ?", models.SettlementStatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *settlementRepository) ListManualReview(offset, limit int) ([]models.SettlementRecord, error) {
	var recs []models.SettlementRecord
	err := r.db.
		Where("manual_review = ?", true).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
