package database

import (
	"context"
	"fmt"

	"entitlement-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IOSSubscriptionStore persists App Store purchases keyed by transaction_id
// and original_transaction_id.
type IOSSubscriptionStore struct {
	db *gorm.DB
}

func NewIOSSubscriptionStore(db *gorm.DB) *IOSSubscriptionStore {
	return &IOSSubscriptionStore{db: db}
}

// GetByTransactionID returns the row currently carrying transactionID.
func (s *IOSSubscriptionStore) GetByTransactionID(ctx context.Context, transactionID string) (*models.IOSSubscription, error) {
	var subscription models.IOSSubscription
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&subscription).Error
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// GetByOriginalTransactionID looks a lineage up independently of the current
// transaction, since a renewal carries a new transaction_id.
func (s *IOSSubscriptionStore) GetByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*models.IOSSubscription, error) {
	var subscription models.IOSSubscription
	err := s.db.WithContext(ctx).Where("original_transaction_id = ?", originalTransactionID).First(&subscription).Error
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// KeyOwner returns the account holding field=value, including keys a renewal
// has since replaced on the row. "" means unclaimed.
func (s *IOSSubscriptionStore) KeyOwner(ctx context.Context, field, value string) (string, error) {
	return keyOwner(ctx, s.db, models.PlatformIOS, field, value, &models.IOSSubscription{})
}

func iosKeys(subscription *models.IOSSubscription) []naturalKey {
	return []naturalKey{
		{field: models.KeyTransactionID, value: subscription.TransactionID},
		{field: models.KeyOriginalTransactionID, value: subscription.OriginalTransactionID},
	}
}

// Upsert inserts subscription or refreshes the lineage one of its natural keys
// already belongs to, and records both keys in the key ledger. A lineage found
// through the ledger is updated directly; otherwise the insert runs under
// ON CONFLICT DO NOTHING, so two concurrent submissions of the same key never
// both create a row and the loser falls through to the update path. It reports
// whether a row was created.
func (s *IOSSubscriptionStore) Upsert(ctx context.Context, subscription *models.IOSSubscription) (bool, error) {
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	keys := iosKeys(subscription)

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lineageID, err := resolveLineage(tx, models.PlatformIOS, subscription.UserID, keys)
		if err != nil {
			return err
		}

		if lineageID == "" {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(subscription)
			if result.Error != nil {
				return fmt.Errorf("failed to insert ios subscription: %w", result.Error)
			}
			if result.RowsAffected == 1 {
				created = true
				return claimKeys(tx, models.PlatformIOS, subscription.ID, subscription.UserID, keys)
			}

			if lineageID, err = s.conflictingRowID(tx, subscription); err != nil {
				return err
			}
		}

		if err := s.refresh(tx, lineageID, subscription); err != nil {
			return err
		}
		return claimKeys(tx, models.PlatformIOS, subscription.ID, subscription.UserID, keys)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// conflictingRowID finds the row that made the insert a no-op.
func (s *IOSSubscriptionStore) conflictingRowID(tx *gorm.DB, subscription *models.IOSSubscription) (string, error) {
	var existing []models.IOSSubscription
	err := tx.Where("transaction_id = ? OR original_transaction_id = ?",
		subscription.TransactionID, subscription.OriginalTransactionID).
		Find(&existing).Error
	if err != nil {
		return "", fmt.Errorf("failed to load conflicting ios subscription: %w", err)
	}

	switch {
	case len(existing) == 0:
		return "", fmt.Errorf("ios subscription insert was skipped but no row holds transaction %s", subscription.TransactionID)
	case len(existing) > 1:
		return "", ErrKeysSplit
	case existing[0].UserID != subscription.UserID:
		return "", ErrOwnerMismatch
	}
	return existing[0].ID, nil
}

// refresh overwrites the mutable fields of row id and copies the result back
// into subscription.
func (s *IOSSubscriptionStore) refresh(tx *gorm.DB, id string, subscription *models.IOSSubscription) error {
	var row models.IOSSubscription
	if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
		return fmt.Errorf("failed to load ios subscription %s: %w", id, err)
	}
	if row.UserID != subscription.UserID {
		return ErrOwnerMismatch
	}

	row.ProductID = subscription.ProductID
	row.TransactionID = subscription.TransactionID
	row.OriginalTransactionID = subscription.OriginalTransactionID
	row.Environment = subscription.Environment
	row.JWSReceipt = subscription.JWSReceipt
	row.PurchaseDate = subscription.PurchaseDate
	row.ExpirationDate = subscription.ExpirationDate

	if err := tx.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update ios subscription: %w", err)
	}

	*subscription = row
	return nil
}

// HasActiveSubscription reports whether userID has an unexpired App Store purchase.
func (s *IOSSubscriptionStore) HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.IOSSubscription{}).
		Where("user_id = ? AND expiration_date > ?", userID, nowMs).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count active ios subscriptions: %w", err)
	}
	return count > 0, nil
}

// GetActiveByUserID returns unexpired rows, latest expiration first.
func (s *IOSSubscriptionStore) GetActiveByUserID(ctx context.Context, userID string, nowMs int64) ([]models.IOSSubscription, error) {
	var subscriptions []models.IOSSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expiration_date > ?", userID, nowMs).
		Order("expiration_date DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active ios subscriptions: %w", err)
	}
	return subscriptions, nil
}

// GetByUserID returns every App Store purchase of userID, newest first.
func (s *IOSSubscriptionStore) GetByUserID(ctx context.Context, userID string) ([]models.IOSSubscription, error) {
	var subscriptions []models.IOSSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ios subscriptions: %w", err)
	}
	return subscriptions, nil
}
