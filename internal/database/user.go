package database

import (
	"context"
	"fmt"

	"entitlement-api/internal/models"

	"gorm.io/gorm"
)

// UserStore answers existence checks against the accounts table.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	return count > 0, nil
}
