package database

import (
	"context"
	"fmt"

	"entitlement-api/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AndroidSubscriptionStore persists Google Play purchases keyed by order_id and purchase_token.
type AndroidSubscriptionStore struct {
	db *gorm.DB
}

func NewAndroidSubscriptionStore(db *gorm.DB) *AndroidSubscriptionStore {
	return &AndroidSubscriptionStore{db: db}
}

func (s *AndroidSubscriptionStore) GetByOrderID(ctx context.Context, orderID string) (*models.AndroidSubscription, error) {
	var subscription models.AndroidSubscription
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&subscription).Error; err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (s *AndroidSubscriptionStore) GetByPurchaseToken(ctx context.Context, purchaseToken string) (*models.AndroidSubscription, error) {
	var subscription models.AndroidSubscription
	if err := s.db.WithContext(ctx).Where("purchase_token = ?", purchaseToken).First(&subscription).Error; err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (s *AndroidSubscriptionStore) KeyOwner(ctx context.Context, field, value string) (string, error) {
	return keyOwner(ctx, s.db, models.PlatformAndroid, field, value, &models.AndroidSubscription{})
}

func androidKeys(subscription *models.AndroidSubscription) []naturalKey {
	return []naturalKey{
		{field: models.KeyOrderID, value: subscription.OrderID},
		{field: models.KeyPurchaseToken, value: subscription.PurchaseToken},
	}
}

// Upsert has the same ledger and insert-first contract as IOSSubscriptionStore.Upsert.
func (s *AndroidSubscriptionStore) Upsert(ctx context.Context, subscription *models.AndroidSubscription) (bool, error) {
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	keys := androidKeys(subscription)

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lineageID, err := resolveLineage(tx, models.PlatformAndroid, subscription.UserID, keys)
		if err != nil {
			return err
		}

		if lineageID == "" {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(subscription)
			if result.Error != nil {
				return fmt.Errorf("failed to insert android subscription: %w", result.Error)
			}
			if result.RowsAffected == 1 {
				created = true
				return claimKeys(tx, models.PlatformAndroid, subscription.ID, subscription.UserID, keys)
			}

			if lineageID, err = s.conflictingRowID(tx, subscription); err != nil {
				return err
			}
		}

		if err := s.refresh(tx, lineageID, subscription); err != nil {
			return err
		}
		return claimKeys(tx, models.PlatformAndroid, subscription.ID, subscription.UserID, keys)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *AndroidSubscriptionStore) conflictingRowID(tx *gorm.DB, subscription *models.AndroidSubscription) (string, error) {
	var existing []models.AndroidSubscription
	err := tx.Where("order_id = ? OR purchase_token = ?", subscription.OrderID, subscription.PurchaseToken).
		Find(&existing).Error
	if err != nil {
		return "", fmt.Errorf("failed to load conflicting android subscription: %w", err)
	}
	if len(existing) == 0 {
		return "", fmt.Errorf("android subscription insert was skipped but no row holds order %s", subscription.OrderID)
	}
	if len(existing) > 1 {
		return "", ErrKeysSplit
	}
	if existing[0].UserID != subscription.UserID {
		return "", ErrOwnerMismatch
	}
	return existing[0].ID, nil
}

func (s *AndroidSubscriptionStore) refresh(tx *gorm.DB, id string, subscription *models.AndroidSubscription) error {
	var row models.AndroidSubscription
	if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
		return fmt.Errorf("failed to load android subscription %s: %w", id, err)
	}
	if row.UserID != subscription.UserID {
		return ErrOwnerMismatch
	}

	row.ProductID = subscription.ProductID
	row.OrderID = subscription.OrderID
	row.PurchaseToken = subscription.PurchaseToken
	row.PackageName = subscription.PackageName
	row.PurchaseDate = subscription.PurchaseDate
	row.ExpirationDate = subscription.ExpirationDate

	if err := tx.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update android subscription: %w", err)
	}

	*subscription = row
	return nil
}

func (s *AndroidSubscriptionStore) HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AndroidSubscription{}).
		Where("user_id = ? AND expiration_date > ?", userID, nowMs).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count active android subscriptions: %w", err)
	}
	return count > 0, nil
}

func (s *AndroidSubscriptionStore) GetActiveByUserID(ctx context.Context, userID string, nowMs int64) ([]models.AndroidSubscription, error) {
	var subscriptions []models.AndroidSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expiration_date > ?", userID, nowMs).
		Order("expiration_date DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active android subscriptions: %w", err)
	}
	return subscriptions, nil
}

func (s *AndroidSubscriptionStore) GetByUserID(ctx context.Context, userID string) ([]models.AndroidSubscription, error) {
	var subscriptions []models.AndroidSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list android subscriptions: %w", err)
	}
	return subscriptions, nil
}
