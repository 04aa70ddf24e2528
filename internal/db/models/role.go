package models

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleSender            Role = "SENDER"
	RoleCarrier           Role = "CARRIER"
	RoleSuccessiveCarrier Role = "SUCCESSIVE_CARRIER"
	RoleConsignee         Role = "CONSIGNEE"
	RoleReader            Role = "READER"
)

// AllRoles lists the roles in chain order, READER last.
var AllRoles = []Role{RoleSender, RoleCarrier, RoleSuccessiveCarrier, RoleConsignee, RoleReader}

func (r Role) Valid() bool {
	switch r {
	case RoleSender, RoleCarrier, RoleSuccessiveCarrier, RoleConsignee, RoleReader:
		return true
	}
	return false
}

// Sealable reports whether the role takes part in the seal chain.
func (r Role) Sealable() bool {
	return r.Valid() && r != RoleReader
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

func (s RoleSet) Add(r Role) {
	s[r] = struct{}{}
}

func (s RoleSet) Empty() bool {
	return len(s) == 0
}

// Clone returns an independent copy; a nil set clones to an empty one.
func (s RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Slice returns the members sorted for stable output.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
