package models

// Pairing statuses. Only accepted pairings carry entitlements.
const (
	PairingStatusPending  = "pending"
	PairingStatusAccepted = "accepted"
)

// Pairing links two accounts. The lifecycle (request/accept) is owned by the
// pairing workflow; this service only reads members and writes Premium.
type Pairing struct {
	BaseModel

	User1ID string  `json:"user1_id" gorm:"not null;size:64;index"`
	User2ID *string `json:"user2_id" gorm:"size:64;index"`
	Status  string  `json:"status" gorm:"not null;size:20;default:'pending';index"`
	Premium bool    `json:"premium" gorm:"not null;default:false"`
}

func (Pairing) TableName() string {
	return "pairings"
}

// Members returns the member ids that are present.
func (p *Pairing) Members() []string {
	if p.User2ID == nil || *p.User2ID == "" {
		return []string{p.User1ID}
	}
	return []string{p.User1ID, *p.User2ID}
}
