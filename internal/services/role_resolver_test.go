package services

import (
	"testing"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// externalCarrier registers a party, gives it a TAN and the CARRIER role on
// documentID.
func (f *fixture) externalCarrier(documentID string) (*RegisteredParty, string) {
	f.t.Helper()
	reg, err := f.parties.Register(f.ctx, f.sender, RegisterPartyRequest{Name: "Road Runner Bt", Email: "ops@roadrunner.example"})
	require.NoError(f.t, err)
	_, err = f.parties.IssueTAN(f.ctx, f.sender, reg.Party.ID)
	require.NoError(f.t, err)
	_, err = f.docs.AddAssignment(f.ctx, f.sender, documentID, AssignmentRequest{
		PrincipalType: models.PrincipalExternalParty,
		PrincipalID:   reg.Party.ID,
		Role:          models.RoleCarrier,
	})
	require.NoError(f.t, err)
	return reg, f.sentTANs[reg.Party.ID]
}

func TestInternalRolesComeFromGroups(t *testing.T) {
	f := newFixture(t)
	doc := f.draft()

	assert.Equal(t, models.NewRoleSet(models.RoleSender), f.resolver.Roles(f.ctx, f.sender, doc.ID))
	assert.Equal(t, models.NewRoleSet(models.RoleCarrier), f.resolver.Roles(f.ctx, f.carrier, doc.ID))
	assert.True(t, f.resolver.Roles(f.ctx, f.outsider, doc.ID).Empty())
	assert.True(t, f.resolver.Roles(f.ctx, nil, doc.ID).Empty())

	f.assign(doc.ID, "carrier-co", models.RoleReader)
	assert.Equal(t, models.NewRoleSet(models.RoleCarrier, models.RoleReader), f.resolver.Roles(f.ctx, f.carrier, doc.ID))
}

func TestResolveInternalRejectsInactiveUser(t *testing.T) {
	f := newFixture(t)
	u, err := f.repo.GetUser(f.ctx, f.outsider.UserID)
	require.NoError(t, err)
	u.ActiveStatus = false
	require.NoError(t, f.repo.SaveUser(f.ctx, u))

	_, err = f.resolver.ResolveInternal(f.ctx, u.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.resolver.ResolveInternal(f.ctx, 4242)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolveExternal(t *testing.T) {
	f := newFixture(t)
	doc := f.draft()
	reg, tan := f.externalCarrier(doc.ID)

	p, err := f.resolver.ResolveExternal(f.ctx, doc.ID, reg.UserToken, tan)
	require.NoError(t, err)
	assert.Equal(t, reg.Party.ID, p.PartyID)
	assert.Equal(t, doc.ID, p.DocumentID)
	assert.Equal(t, models.NewRoleSet(models.RoleCarrier), f.resolver.Roles(f.ctx, p, doc.ID))

	other := f.draft()
	assert.True(t, f.resolver.Roles(f.ctx, p, other.ID).Empty(), "principal is bound to one document")

	for name, args := range map[string][3]string{
		"unknown token": {doc.ID, "nope", tan},
		"wrong tan":     {doc.ID, reg.UserToken, "000000x"},
		"empty tan":     {doc.ID, reg.UserToken, ""},
		"no document":   {"", reg.UserToken, tan},
	} {
		_, err := f.resolver.ResolveExternal(f.ctx, args[0], args[1], args[2])
		assert.Same(t, ErrInvalidCredential, err, name)
	}
}

func TestExternalPrincipalFailsClosed(t *testing.T) {
	f := newFixture(t)
	doc := f.draft()
	reg, tan := f.externalCarrier(doc.ID)
	p, err := f.resolver.ResolveExternal(f.ctx, doc.ID, reg.UserToken, tan)
	require.NoError(t, err)

	f.resolver.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.True(t, f.resolver.Roles(f.ctx, p, doc.ID).Empty(), "expired TAN")
	_, err = f.resolver.ResolveExternal(f.ctx, doc.ID, reg.UserToken, tan)
	assert.Same(t, ErrInvalidCredential, err)

	f.resolver.now = time.Now
	require.NoError(t, f.parties.Deactivate(f.ctx, f.sender, reg.Party.ID))
	assert.True(t, f.resolver.Roles(f.ctx, p, doc.ID).Empty(), "deactivated party")
}

func TestIsTANValid(t *testing.T) {
	f := newFixture(t)
	doc := f.draft()
	reg, tan := f.externalCarrier(doc.ID)
	unassigned := f.draft()

	assert.True(t, f.resolver.IsTANValid(f.ctx, doc.ID, reg.UserToken, tan))
	assert.False(t, f.resolver.IsTANValid(f.ctx, doc.ID, reg.UserToken, "999999"))
	assert.False(t, f.resolver.IsTANValid(f.ctx, doc.ID, "unknown", tan))
	assert.False(t, f.resolver.IsTANValid(f.ctx, unassigned.ID, reg.UserToken, tan))

	_, err := f.parties.IssueTAN(f.ctx, f.sender, reg.Party.ID)
	require.NoError(t, err)
	assert.False(t, f.resolver.IsTANValid(f.ctx, doc.ID, reg.UserToken, tan), "rotated TAN replaces the old one")
	assert.True(t, f.resolver.IsTANValid(f.ctx, doc.ID, reg.UserToken, f.sentTANs[reg.Party.ID]))
}

func TestExternalCarrierCanSeal(t *testing.T) {
	f := newFixture(t)
	doc := f.draft()
	reg, tan := f.externalCarrier(doc.ID)
	senderSeal := f.mustSeal(f.sender, doc.ID, models.RoleSender, "")

	p, err := f.resolver.ResolveExternal(f.ctx, doc.ID, reg.UserToken, tan)
	require.NoError(t, err)
	seal := f.mustSeal(p, doc.ID, models.RoleCarrier, senderSeal.Signature)
	assert.Equal(t, "party:"+reg.Party.ID, seal.Sealer)
	assert.Equal(t, models.StatusInTransport, f.status(doc.ID))
}
