package model

import "time"

type SkinType string

const (
	SkinNormal      SkinType = "normal"
	SkinDry         SkinType = "dry"
	SkinOily        SkinType = "oily"
	SkinCombination SkinType = "combination"
	SkinSensitive   SkinType = "sensitive"
	SkinUnknown     SkinType = "unknown"
)

// ParseSkinType maps free-form input to a known skin type. Empty input is
// SkinUnknown; anything unrecognised is rejected.
func ParseSkinType(v string) (SkinType, bool) {
	switch st := SkinType(v); st {
	case "":
		return SkinUnknown, true
	case SkinNormal, SkinDry, SkinOily, SkinCombination, SkinSensitive, SkinUnknown:
		return st, true
	default:
		return "", false
	}
}

// User is an account that owns uploaded documents.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string     `gorm:"size:128;not null;uniqueIndex" json:"email"`
	DisplayName  string     `gorm:"size:128" json:"display_name"`
	SkinType     SkinType   `gorm:"size:16;not null;default:unknown" json:"skin_type"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
