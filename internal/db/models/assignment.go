package models

import "time"

type PrincipalType string

const (
	PrincipalGroup         PrincipalType = "GROUP"
	PrincipalExternalParty PrincipalType = "EXTERNAL_PARTY"
)

// Assignment binds one principal to a document under one role.
type Assignment struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	DocumentID    string        `gorm:"not null;index" json:"documentId"`
	PrincipalType PrincipalType `gorm:"not null" json:"principalType"`
	PrincipalID   string        `gorm:"not null;index" json:"principalId"`
	Role          Role          `gorm:"not null" json:"role"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func (Assignment) TableName() string {
	return "assignments"
}
