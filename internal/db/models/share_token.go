package models

import "time"

// ShareToken is the single active credential for one (document, role) slot.
// Only the sha256 of the token is kept.
type ShareToken struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	DocumentID string    `gorm:"not null;uniqueIndex:idx_share_document_role" json:"documentId"`
	Role       Role      `gorm:"not null;uniqueIndex:idx_share_document_role" json:"role"`
	TokenHash  string    `gorm:"not null;uniqueIndex" json:"-"`
	IssuedBy   string    `json:"issuedBy"`
	IssuedAt   time.Time `json:"issuedAt"`
}

func (ShareToken) TableName() string {
	return "share_tokens"
}
