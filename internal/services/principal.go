package services

import (
	"fmt"
	"time"
)

// Principal is the caller of an operation, resolved once at the request
// boundary. It is either an InternalUser or an ExternalParty.
type Principal interface {
	// Subject is the stable identity string recorded as editor and sealer.
	Subject() string
	isPrincipal()
}

type InternalUser struct {
	UserID   uint
	Username string
	GroupIDs []string
}

func (u InternalUser) Subject() string { return fmt.Sprintf("user:%d", u.UserID) }
func (InternalUser) isPrincipal()      {}

func (u InternalUser) InGroup(groupID string) bool {
	for _, g := range u.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

// ExternalParty is a TAN-authenticated outsider, bound to the document the
// TAN was presented for.
type ExternalParty struct {
	PartyID      string
	Name         string
	DocumentID   string
	TANExpiresAt time.Time
}

func (p ExternalParty) Subject() string { return "party:" + p.PartyID }
func (ExternalParty) isPrincipal()      {}
