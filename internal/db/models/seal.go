package models

import (
	"time"
)

// Seal is one party's signature over a document snapshot, chained to the
// previous seal through PrecedingSealRef.
type Seal struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	DocumentID       string    `gorm:"not null;uniqueIndex:idx_seal_document_role" json:"documentId"`
	Role             Role      `gorm:"not null;uniqueIndex:idx_seal_document_role" json:"role"`
	Sealer           string    `gorm:"not null" json:"sealer"`
	SealerContext    string    `json:"sealerContext,omitempty"`
	SignedAt         time.Time `gorm:"not null" json:"signedAt"`
	Signature        string    `gorm:"type:text;not null" json:"signature"`
	PrecedingSealRef string    `gorm:"type:text" json:"precedingSealRef"`
	SnapshotHash     string    `gorm:"not null" json:"snapshotHash"`
	Algorithm        string    `gorm:"not null" json:"algorithm"`
	KeyID            string    `gorm:"not null" json:"keyId"`
	PublicKey        string    `gorm:"type:text;not null" json:"publicKey"`
	CreatedAt        time.Time `json:"-"`
}

func (Seal) TableName() string {
	return "seals"
}
