package services

import (
	"context"
	"time"

	"entitlement-api/internal/models"
)

// IOSStore is the persistence the ios variant needs.
type IOSStore interface {
	KeyOwner(ctx context.Context, field, value string) (string, error)
	Upsert(ctx context.Context, subscription *models.IOSSubscription) (bool, error)
	HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error)
	GetActiveByUserID(ctx context.Context, userID string, nowMs int64) ([]models.IOSSubscription, error)
	GetByUserID(ctx context.Context, userID string) ([]models.IOSSubscription, error)
}

// AndroidStore is the persistence the android variant needs.
type AndroidStore interface {
	KeyOwner(ctx context.Context, field, value string) (string, error)
	Upsert(ctx context.Context, subscription *models.AndroidSubscription) (bool, error)
	HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error)
	GetActiveByUserID(ctx context.Context, userID string, nowMs int64) ([]models.AndroidSubscription, error)
	GetByUserID(ctx context.Context, userID string) ([]models.AndroidSubscription, error)
}

// ValidatedReceipt holds exactly one of IOS or Android.
type ValidatedReceipt struct {
	Platform string
	IOS      *IOSReceipt
	Android  *AndroidReceipt
}

// NaturalKey is one vendor-issued identifier of a submission together with
// the lookup that returns its owner ("" when unclaimed). Ownership outlives the
// row: a key replaced by a renewal still belongs to its first account.
type NaturalKey struct {
	Field string
	Value string
	Owner func(ctx context.Context) (string, error)
}

// SubscriptionRecord is the platform-neutral view of a stored row.
type SubscriptionRecord struct {
	ID             string    `json:"id"`
	Platform       string    `json:"platform"`
	ProductID      string    `json:"product_id"`
	PurchaseDate   int64     `json:"purchase_date"`
	ExpirationDate int64     `json:"expiration_date"`
	CreatedAt      time.Time `json:"-"`
}

// IsActiveAt is the only definition of "active": unexpired at nowMs.
func (r *SubscriptionRecord) IsActiveAt(nowMs int64) bool {
	return r.ExpirationDate > nowMs
}

// ReceiptPlatform is the capability set shared by the ios and android
// variants. The variant is selected once per request.
type ReceiptPlatform interface {
	Name() string
	Validate(body []byte) (*ValidatedReceipt, error)
	NaturalKeys(receipt *ValidatedReceipt) []NaturalKey
	Upsert(ctx context.Context, userID string, receipt *ValidatedReceipt) (*SubscriptionRecord, bool, error)
	HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error)
	ActiveSubscriptions(ctx context.Context, userID string, nowMs int64) ([]SubscriptionRecord, error)
}

type iosPlatform struct {
	validator *ReceiptValidator
	store     IOSStore
}

func newIOSPlatform(validator *ReceiptValidator, store IOSStore) *iosPlatform {
	return &iosPlatform{validator: validator, store: store}
}

func (p *iosPlatform) Name() string { return models.PlatformIOS }

func (p *iosPlatform) Validate(body []byte) (*ValidatedReceipt, error) {
	receipt, err := p.validator.ValidateIOS(body)
	if err != nil {
		return nil, err
	}
	return &ValidatedReceipt{Platform: models.PlatformIOS, IOS: receipt}, nil
}

func (p *iosPlatform) NaturalKeys(receipt *ValidatedReceipt) []NaturalKey {
	return []NaturalKey{
		ledgerKey(p.store, models.KeyTransactionID, receipt.IOS.TransactionID),
		ledgerKey(p.store, models.KeyOriginalTransactionID, receipt.IOS.OriginalTransactionID),
	}
}

func (p *iosPlatform) Upsert(ctx context.Context, userID string, receipt *ValidatedReceipt) (*SubscriptionRecord, bool, error) {
	row := &models.IOSSubscription{
		UserID:                userID,
		ProductID:             receipt.IOS.ProductID,
		TransactionID:         receipt.IOS.TransactionID,
		OriginalTransactionID: receipt.IOS.OriginalTransactionID,
		Environment:           receipt.IOS.Environment,
		JWSReceipt:            receipt.IOS.JWSReceipt,
		PurchaseDate:          receipt.IOS.PurchaseDate,
		ExpirationDate:        receipt.IOS.ExpirationDate,
	}
	created, err := p.store.Upsert(ctx, row)
	if err != nil {
		return nil, false, err
	}
	record := iosRecord(row)
	return &record, created, nil
}

func (p *iosPlatform) HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error) {
	return p.store.HasActiveSubscription(ctx, userID, nowMs)
}

func (p *iosPlatform) ActiveSubscriptions(ctx context.Context, userID string, nowMs int64) ([]SubscriptionRecord, error) {
	rows, err := p.store.GetActiveByUserID(ctx, userID, nowMs)
	if err != nil {
		return nil, err
	}
	records := make([]SubscriptionRecord, len(rows))
	for i := range rows {
		records[i] = iosRecord(&rows[i])
	}
	return records, nil
}

type androidPlatform struct {
	validator *ReceiptValidator
	store     AndroidStore
}

func newAndroidPlatform(validator *ReceiptValidator, store AndroidStore) *androidPlatform {
	return &androidPlatform{validator: validator, store: store}
}

func (p *androidPlatform) Name() string { return models.PlatformAndroid }

func (p *androidPlatform) Validate(body []byte) (*ValidatedReceipt, error) {
	receipt, err := p.validator.ValidateAndroid(body)
	if err != nil {
		return nil, err
	}
	return &ValidatedReceipt{Platform: models.PlatformAndroid, Android: receipt}, nil
}

func (p *androidPlatform) NaturalKeys(receipt *ValidatedReceipt) []NaturalKey {
	return []NaturalKey{
		ledgerKey(p.store, models.KeyOrderID, receipt.Android.OrderID),
		ledgerKey(p.store, models.KeyPurchaseToken, receipt.Android.PurchaseToken),
	}
}

func (p *androidPlatform) Upsert(ctx context.Context, userID string, receipt *ValidatedReceipt) (*SubscriptionRecord, bool, error) {
	row := &models.AndroidSubscription{
		UserID:         userID,
		ProductID:      receipt.Android.ProductID,
		OrderID:        receipt.Android.OrderID,
		PurchaseToken:  receipt.Android.PurchaseToken,
		PackageName:    receipt.Android.PackageName,
		PurchaseDate:   receipt.Android.PurchaseDate,
		ExpirationDate: receipt.Android.ExpirationDate,
	}
	created, err := p.store.Upsert(ctx, row)
	if err != nil {
		return nil, false, err
	}
	record := androidRecord(row)
	return &record, created, nil
}

func (p *androidPlatform) HasActiveSubscription(ctx context.Context, userID string, nowMs int64) (bool, error) {
	return p.store.HasActiveSubscription(ctx, userID, nowMs)
}

func (p *androidPlatform) ActiveSubscriptions(ctx context.Context, userID string, nowMs int64) ([]SubscriptionRecord, error) {
	rows, err := p.store.GetActiveByUserID(ctx, userID, nowMs)
	if err != nil {
		return nil, err
	}
	records := make([]SubscriptionRecord, len(rows))
	for i := range rows {
		records[i] = androidRecord(&rows[i])
	}
	return records, nil
}

func iosRecord(row *models.IOSSubscription) SubscriptionRecord {
	return SubscriptionRecord{
		ID:             row.ID,
		Platform:       models.PlatformIOS,
		ProductID:      row.ProductID,
		PurchaseDate:   row.PurchaseDate,
		ExpirationDate: row.ExpirationDate,
		CreatedAt:      row.CreatedAt,
	}
}

func androidRecord(row *models.AndroidSubscription) SubscriptionRecord {
	return SubscriptionRecord{
		ID:             row.ID,
		Platform:       models.PlatformAndroid,
		ProductID:      row.ProductID,
		PurchaseDate:   row.PurchaseDate,
		ExpirationDate: row.ExpirationDate,
		CreatedAt:      row.CreatedAt,
	}
}
