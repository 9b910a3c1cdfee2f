package repository

import (
	"gorm.io/gorm"

	"github.com/reelhouse/reelhouse/app/models"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}

// CountByEntitlementStatus groups users by their snapshot status.
func (r *userRepository) CountByEntitlementStatus() (map[string]int64, error) {
	var rows []struct {
		SubscriptionStatus string
		Count              int64
	}
	err := r.db.Model(&models.User{}).
		Select("subscription_status, COUNT(*) AS count").
		Group("subscription_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.SubscriptionStatus] = row.Count
	}
	return out, nil
}
