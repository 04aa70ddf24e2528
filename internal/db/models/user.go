package models

import (
	"time"
)

type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"unique;not null" json:"username"`
	Email          string    `gorm:"unique;not null" json:"email"`
	PasswordHash   string    `gorm:"not null" json:"-"` // Bcrypt hash of password
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	ActiveStatus   bool      `gorm:"not null;default:true" json:"active"`
	LastLogin      time.Time `json:"lastLogin"`
	FailedAttempts int       `gorm:"not null;default:0" json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

type Group struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Group) TableName() string {
	return "groups"
}

type GroupMember struct {
	GroupID string `gorm:"primaryKey;type:varchar(64)"`
	UserID  uint   `gorm:"primaryKey"`
}

func (GroupMember) TableName() string {
	return "group_members"
}
