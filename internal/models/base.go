package models

import (
	"time"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Platform names accepted on receipt submission.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)
