package repository

import (
	"github.com/stashpoint/settled/app/models"
	"gorm.io/gorm"
)

// sellerRepository implements the SellerRepository interface
type sellerRepository struct {
	db *gorm.DB
}

// NewSellerRepository creates a new seller onboarding repository instance
func NewSellerRepository(db *gorm.DB) SellerRepository {
	return &sellerRepository{db: db}
}

func (r *sellerRepository) Create(rec *models.SellerOnboarding) error {
	return r.db.Create(rec).Error
}

func (r *sellerRepository) GetByStoreID(storeID uint) (*models.SellerOnboarding, error) {
	var rec models.SellerOnboarding
	err := r.db.Where("store_id = ?", storeID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *sellerRepository) UpdateGuarded(rec *models.SellerOnboarding, updates map[string]interface{}) (bool, error) {
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version"] = rec.Version + 1

	tx := r.db.Model(&models.SellerOnboarding{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(merged)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}

	return true, r.db.First(rec, rec.ID).Error
}
