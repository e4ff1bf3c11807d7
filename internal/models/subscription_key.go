package models

// Natural key fields recorded in the key ledger.
const (
	KeyTransactionID         = "transaction_id"
	KeyOriginalTransactionID = "original_transaction_id"
	KeyOrderID               = "order_id"
	KeyPurchaseToken         = "purchase_token"
)

// SubscriptionKey records that a natural key was once carried by a
// subscription. Rows are never removed, so a key superseded by a renewal stays
// owned by the account that first submitted it.
type SubscriptionKey struct {
	BaseModel

	Platform string `json:"platform" gorm:"not null;size:20;uniqueIndex:idx_subscription_keys_natural"`
	KeyField string `json:"key_field" gorm:"not null;size:40;uniqueIndex:idx_subscription_keys_natural"`
	KeyValue string `json:"key_value" gorm:"not null;size:512;uniqueIndex:idx_subscription_keys_natural"`

	SubscriptionID string `json:"subscription_id" gorm:"not null;size:36;index"`
	UserID         string `json:"user_id" gorm:"not null;size:64;index"`
}

func (SubscriptionKey) TableName() string {
	return "subscription_keys"
}
