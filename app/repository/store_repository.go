package repository

import (
	"github.com/stashpoint/settled/app/models"
	"gorm.io/gorm"
)

// storeRepository implements the StoreRepository interface
type storeRepository struct {
	db *gorm.DB
}

// NewStoreRepository creates a new store repository instance
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepository{db: db}
}

func (r *storeRepository) GetByID(id uint) (*models.Store, error) {
	var store models.Store
	err := r.db.First(&store, id).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepository) Exists(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Store{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}
