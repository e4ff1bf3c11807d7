package models

// IOSSubscription stores one App Store purchase lineage.
// transaction_id and original_transaction_id are each globally unique; a
// renewal arrives with a new transaction_id and refreshes the row in place.
type IOSSubscription struct {
	BaseModel

	UserID    string `json:"user_id" gorm:"not null;size:64;index"`
	ProductID string `json:"product_id" gorm:"not null;size:100"`

	TransactionID         string `json:"transaction_id" gorm:"not null;size:100;uniqueIndex"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"not null;size:100;uniqueIndex"`
	Environment           string `json:"environment" gorm:"not null;size:20"` // Production or Sandbox
	JWSReceipt            string `json:"-" gorm:"type:text"`

	// Epoch milliseconds
	PurchaseDate   int64 `json:"purchase_date" gorm:"not null"`
	ExpirationDate int64 `json:"expiration_date" gorm:"not null;index"`
}

func (IOSSubscription) TableName() string {
	return "ios_subscriptions"
}

// AndroidSubscription stores one Google Play purchase, keyed by order_id and purchase_token.
type AndroidSubscription struct {
	BaseModel

	UserID    string `json:"user_id" gorm:"not null;size:64;index"`
	ProductID string `json:"product_id" gorm:"not null;size:100"`

	OrderID       string `json:"order_id" gorm:"not null;size:100;uniqueIndex"`
	PurchaseToken string `json:"purchase_token" gorm:"not null;size:512;uniqueIndex"`
	PackageName   string `json:"package_name" gorm:"not null;size:255"`

	// Epoch milliseconds
	PurchaseDate   int64 `json:"purchase_date" gorm:"not null"`
	ExpirationDate int64 `json:"expiration_date" gorm:"not null;index"`
}

func (AndroidSubscription) TableName() string {
	return "android_subscriptions"
}

// IsActiveAt reports whether the purchase is unexpired at nowMs.
func (s *IOSSubscription) IsActiveAt(nowMs int64) bool {
	return s.ExpirationDate > nowMs
}

// IsActiveAt reports whether the purchase is unexpired at nowMs.
func (s *AndroidSubscription) IsActiveAt(nowMs int64) bool {
	return s.ExpirationDate > nowMs
}
