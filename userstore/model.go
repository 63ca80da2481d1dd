package userstore

import (
	"time"

	goMFA "github.com/MrEthical07/goMFA"
)

// User is the relational row behind Repository.
type User struct {
	ID                    string `gorm:"primaryKey;size:64"`
	Username              string `gorm:"size:256;not null;uniqueIndex"`
	Email                 string `gorm:"size:320;index"`
	PasswordHash          string `gorm:"type:text;not null"`
	TwoFactorEnabled      bool   `gorm:"not null;default:false"`
	EmailTwoFactorEnabled bool   `gorm:"not null;default:false"`
	LockoutEnd            *time.Time
	LastLoginAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (User) TableName() string { return "mfa_users" }

func (u User) record() goMFA.UserRecord {
	rec := goMFA.UserRecord{
		ID:                    u.ID,
		Username:              u.Username,
		Email:                 u.Email,
		PasswordHash:          u.PasswordHash,
		TwoFactorEnabled:      u.TwoFactorEnabled,
		EmailTwoFactorEnabled: u.EmailTwoFactorEnabled,
	}
	if u.LockoutEnd != nil {
		rec.LockoutEnd = u.LockoutEnd.UTC()
	}
	if u.LastLoginAt != nil {
		rec.LastLoginAt = u.LastLoginAt.UTC()
	}
	return rec
}

func fromRecord(rec goMFA.UserRecord) User {
	return User{
		ID:                    rec.ID,
		Username:              rec.Username,
		Email:                 rec.Email,
		PasswordHash:          rec.PasswordHash,
		TwoFactorEnabled:      rec.TwoFactorEnabled,
		EmailTwoFactorEnabled: rec.EmailTwoFactorEnabled,
		LockoutEnd:            timePtr(rec.LockoutEnd),
		LastLoginAt:           timePtr(rec.LastLoginAt),
	}
}

// Zero times are stored as NULL.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
