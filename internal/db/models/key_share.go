package models

import (
	"time"
)

// KeyShare stores the PEM encoded RSA signing key of one sealer.
type KeyShare struct {
	ID             uint      `gorm:"primaryKey"`
	Owner          string    `gorm:"uniqueIndex;not null"`
	EncryptedShare []byte    `gorm:"type:bytea"`
	Version        int       `gorm:"not null;default:1"`
	Status         string    `gorm:"not null;default:'ACTIVE'"` // "ACTIVE", "REVOKED"
	Created        time.Time `gorm:"autoCreateTime"`
	LastAccessed   time.Time
}

func (KeyShare) TableName() string {
	return "key_shares"
}
