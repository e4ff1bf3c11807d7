package database

import (
	"context"
	"fmt"

	"entitlement-api/internal/models"

	"gorm.io/gorm"
)

// PairingStore reads accepted pairings and persists their premium flag.
type PairingStore struct {
	db *gorm.DB
}

func NewPairingStore(db *gorm.DB) *PairingStore {
	return &PairingStore{db: db}
}

// GetAcceptedPairings returns every accepted pairing with userID as either member.
func (s *PairingStore) GetAcceptedPairings(ctx context.Context, userID string) ([]models.Pairing, error) {
	var pairings []models.Pairing
	err := s.db.WithContext(ctx).
		Where("status = ? AND (user1_id = ? OR user2_id = ?)", models.PairingStatusAccepted, userID, userID).
		Order("created_at ASC").
		Find(&pairings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accepted pairings: %w", err)
	}
	return pairings, nil
}

// SetPremiumStatus writes the flag even when it is unchanged.
func (s *PairingStore) SetPremiumStatus(ctx context.Context, pairingID string, premium bool) error {
	result := s.db.WithContext(ctx).
		Model(&models.Pairing{}).
		Where("id = ?", pairingID).
		Update("premium", premium)
	if result.Error != nil {
		return fmt.Errorf("failed to set premium for pairing %s: %w", pairingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("pairing %s: %w", pairingID, gorm.ErrRecordNotFound)
	}
	return nil
}

// UserHasPremiumPairing reads the persisted flag; it never recomputes it.
func (s *PairingStore) UserHasPremiumPairing(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Pairing{}).
		Where("status = ? AND premium = ? AND (user1_id = ? OR user2_id = ?)",
			models.PairingStatusAccepted, true, userID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check premium pairing: %w", err)
	}
	return count > 0, nil
}
