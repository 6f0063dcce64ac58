package models

import "time"

// Account represents a durable identity resolved from an email address
type Account struct {
	ID            int       `json:"id" gorm:"primaryKey;autoIncrement"`
	Email         string    `json:"email" gorm:"uniqueIndex;not null"`
	DisplayName   string    `json:"display_name"`
	PhoneNumber   *string   `json:"phone_number,omitempty"`
	EmailVerified bool      `json:"email_verified" gorm:"default:false"`
	Active        bool      `json:"active" gorm:"default:true"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}
