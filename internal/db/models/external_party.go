package models

import "time"

// ExternalParty is a registered outsider who works on documents through a
// user token plus a rotating TAN instead of an internal account.
type ExternalParty struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name         string     `gorm:"not null" json:"name"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	UserToken    string     `gorm:"uniqueIndex;not null" json:"-"`
	TANHash      string     `json:"-"`
	TANExpiresAt *time.Time `json:"tanExpiresAt,omitempty"`
	Active       bool       `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (ExternalParty) TableName() string {
	return "external_parties"
}
