package database

import (
	"context"
	"fmt"

	"entitlement-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type naturalKey struct {
	field string
	value string
}

// resolveLineage returns the subscription the ledger already ties any of keys
// to, or "" when none of them has been seen.
func resolveLineage(tx *gorm.DB, platform, userID string, keys []naturalKey) (string, error) {
	subscriptionID := ""
	for _, key := range keys {
		var entry models.SubscriptionKey
		err := tx.Where("platform = ? AND key_field = ? AND key_value = ?", platform, key.field, key.value).
			First(&entry).Error
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up %s key %s: %w", platform, key.field, err)
		}

		if entry.UserID != userID {
			return "", ErrOwnerMismatch
		}
		if subscriptionID != "" && subscriptionID != entry.SubscriptionID {
			return "", ErrKeysSplit
		}
		subscriptionID = entry.SubscriptionID
	}
	return subscriptionID, nil
}

// claimKeys records keys for subscriptionID. A key already recorded for another
// subscription aborts the claim.
func claimKeys(tx *gorm.DB, platform, subscriptionID, userID string, keys []naturalKey) error {
	for _, key := range keys {
		entry := models.SubscriptionKey{
			Platform:       platform,
			KeyField:       key.field,
			KeyValue:       key.value,
			SubscriptionID: subscriptionID,
			UserID:         userID,
		}
		entry.ID = uuid.NewString()

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if result.Error != nil {
			return fmt.Errorf("failed to record %s key %s: %w", platform, key.field, result.Error)
		}
		if result.RowsAffected == 1 {
			continue
		}

		var existing models.SubscriptionKey
		err := tx.Where("platform = ? AND key_field = ? AND key_value = ?", platform, key.field, key.value).
			First(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to load %s key %s: %w", platform, key.field, err)
		}
		switch {
		case existing.UserID != userID:
			return ErrOwnerMismatch
		case existing.SubscriptionID != subscriptionID:
			return ErrKeysSplit
		}
	}
	return nil
}

// keyOwner returns the account a natural key belongs to, "" when unclaimed.
// Rows stored before the ledger existed are found through the subscription table.
func keyOwner(ctx context.Context, db *gorm.DB, platform, field, value string, model interface{}) (string, error) {
	var entry models.SubscriptionKey
	err := db.WithContext(ctx).
		Where("platform = ? AND key_field = ? AND key_value = ?", platform, field, value).
		First(&entry).Error
	if err == nil {
		return entry.UserID, nil
	}
	if !IsNotFound(err) {
		return "", fmt.Errorf("failed to look up %s key %s: %w", platform, field, err)
	}

	var owners []string
	err = db.WithContext(ctx).Model(model).
		Where(clause.Eq{Column: clause.Column{Name: field}, Value: value}).
		Limit(1).
		Pluck("user_id", &owners).Error
	if err != nil {
		return "", fmt.Errorf("failed to look up %s %s: %w", platform, field, err)
	}
	if len(owners) == 0 {
		return "", nil
	}
	return owners[0], nil
}
