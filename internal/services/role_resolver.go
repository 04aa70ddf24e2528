package services

import (
	"context"
	"errors"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/utils"
	"go.uber.org/zap"
)

var ErrInvalidCredential = apperr.InvalidInput("invalid credential")

// RoleResolver turns principals into the roles they hold on a document.
type RoleResolver struct {
	repo   repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewRoleResolver(repo repository.Repository, logger *zap.Logger) *RoleResolver {
	return &RoleResolver{
		repo:   repo,
		logger: logger.With(zap.String("service", "role_resolver")),
		now:    time.Now,
	}
}

// ResolveInternal loads an active user and their group memberships.
func (rr *RoleResolver) ResolveInternal(ctx context.Context, userID uint) (InternalUser, error) {
	user, err := rr.repo.GetUser(ctx, userID)
	if err != nil {
		return InternalUser{}, err
	}
	if !user.ActiveStatus {
		return InternalUser{}, apperr.Forbidden("account deactivated")
	}
	groups, err := rr.repo.GroupIDsForUser(ctx, userID)
	if err != nil {
		return InternalUser{}, err
	}
	return InternalUser{UserID: user.ID, Username: user.Username, GroupIDs: groups}, nil
}

// ResolveExternal checks userToken and tan. Every failure, whatever the
// cause, is ErrInvalidCredential.
func (rr *RoleResolver) ResolveExternal(ctx context.Context, documentID, userToken, tan string) (ExternalParty, error) {
	if documentID == "" || userToken == "" || tan == "" {
		utils.BurnPasswordCheck(tan)
		return ExternalParty{}, ErrInvalidCredential
	}
	party, err := rr.repo.GetExternalPartyByToken(ctx, userToken)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			rr.logger.Error("external party lookup failed", zap.Error(err))
		}
		utils.BurnPasswordCheck(tan)
		return ExternalParty{}, ErrInvalidCredential
	}
	if party.TANHash == "" {
		utils.BurnPasswordCheck(tan)
		return ExternalParty{}, ErrInvalidCredential
	}
	ok, _ := utils.VerifyPassword(party.TANHash, tan)
	if !ok || !rr.partyUsable(party) {
		return ExternalParty{}, ErrInvalidCredential
	}
	return ExternalParty{
		PartyID:      party.ID,
		Name:         party.Name,
		DocumentID:   documentID,
		TANExpiresAt: *party.TANExpiresAt,
	}, nil
}

func (rr *RoleResolver) partyUsable(p *models.ExternalParty) bool {
	return p.Active && p.TANExpiresAt != nil && rr.now().Before(*p.TANExpiresAt)
}

// IsTANValid is the anonymous check: a valid credential that also reaches
// the document. It never says why it failed.
func (rr *RoleResolver) IsTANValid(ctx context.Context, documentID, userToken, tan string) bool {
	p, err := rr.ResolveExternal(ctx, documentID, userToken, tan)
	if err != nil {
		return false
	}
	return !rr.Roles(ctx, p, documentID).Empty()
}

// Roles unions the assignment rows reachable from p. Anything that cannot be
// resolved to an active identity yields the empty set.
func (rr *RoleResolver) Roles(ctx context.Context, p Principal, documentID string) models.RoleSet {
	roles := models.NewRoleSet()
	if p == nil {
		return roles
	}

	var match func(a models.Assignment) bool
	switch v := p.(type) {
	case InternalUser:
		groups := make(map[string]struct{}, len(v.GroupIDs))
		for _, g := range v.GroupIDs {
			groups[g] = struct{}{}
		}
		match = func(a models.Assignment) bool {
			_, ok := groups[a.PrincipalID]
			return a.PrincipalType == models.PrincipalGroup && ok
		}
	case ExternalParty:
		if v.DocumentID != documentID || !rr.now().Before(v.TANExpiresAt) {
			return roles
		}
		party, err := rr.repo.GetExternalParty(ctx, v.PartyID)
		if err != nil || !rr.partyUsable(party) {
			return roles
		}
		match = func(a models.Assignment) bool {
			return a.PrincipalType == models.PrincipalExternalParty && a.PrincipalID == v.PartyID
		}
	default:
		return roles
	}

	assignments, err := rr.repo.ListAssignments(ctx, documentID)
	if err != nil {
		rr.logger.Error("assignment lookup failed", zap.String("doc_id", documentID), zap.Error(err))
		return roles
	}
	for _, a := range assignments {
		if match(a) {
			roles.Add(a.Role)
		}
	}
	return roles
}
