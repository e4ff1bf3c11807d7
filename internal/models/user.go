package models

// User is the minimal view of an account needed to answer "does this user exist".
type User struct {
	BaseModel

	Email string `json:"email" gorm:"size:255;index"`
}

func (User) TableName() string {
	return "users"
}
