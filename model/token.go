package model

import (
	"time"

	"gorm.io/gorm"
)

// QuickBooksToken stores the current OAuth credential set for one realm.
// There is at most one row per realm; refreshes replace the whole set.
type QuickBooksToken struct {
	gorm.Model
	RealmID          string    `gorm:"size:32;not null;uniqueIndex"`
	AccessToken      string    `gorm:"size:4096;not null"`
	RefreshToken     string    `gorm:"size:512;not null"`
	TokenType        string    `gorm:"size:32;not null"`
	ExpiresAt        time.Time `gorm:"not null"`
	RefreshExpiresAt time.Time `gorm:"default:null"`
}

func (QuickBooksToken) TableName() string {
	return "quickbooks_tokens"
}

func (t *QuickBooksToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == 0 {
		t.ID = GenerateID()
	}
	return nil
}

// Expired reports whether the access token should be considered expired at
// time now, treating anything within skew of the deadline as already gone.
func (t *QuickBooksToken) Expired(now time.Time, skew time.Duration) bool {
	return !now.Before(t.ExpiresAt.Add(-skew))
}
