package services

import (
	"fmt"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/lifecycle"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/canonhash"
)

// fieldGroup is one governed slice of the document sections.
type fieldGroup struct {
	name           string
	owner          models.Role
	requiredStatus models.DocumentStatus
	// frozenAfterNew groups may never change once status left NEW.
	frozenAfterNew bool
	extract        func(s *models.Sections) any
}

func items(s *models.Sections) any {
	if len(s.Items) == 0 {
		return nil
	}
	return s.Items
}

// fieldGroups is the ownership table shared by the mutation guard and the
// seal snapshots.
var fieldGroups = []fieldGroup{
	{name: "reference", owner: models.RoleSender, requiredStatus: models.StatusNew, frozenAfterNew: true,
		extract: func(s *models.Sections) any { return s.Reference }},
	{name: "sender", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.Sender }},
	{name: "carrier", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.Carrier }},
	{name: "successiveCarrier", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.SuccessiveCarrier }},
	{name: "consignee", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.Consignee }},
	{name: "takingOver", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.TakingOver }},
	{name: "placeOfDelivery", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.PlaceOfDelivery }},
	{name: "items", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: items},
	{name: "charges", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.Charges }},
	{name: "senderInstructions", owner: models.RoleSender, requiredStatus: models.StatusNew,
		extract: func(s *models.Sections) any { return s.SenderInstructions }},
	{name: "carrierObservations", owner: models.RoleCarrier, requiredStatus: models.StatusLoading,
		extract: func(s *models.Sections) any { return s.CarrierObservations }},
	{name: "successiveCarrierObservations", owner: models.RoleSuccessiveCarrier, requiredStatus: models.StatusInTransport,
		extract: func(s *models.Sections) any { return s.SuccessiveCarrierObservations }},
	{name: "goodsReceived", owner: models.RoleConsignee, requiredStatus: models.StatusInTransport,
		extract: func(s *models.Sections) any { return s.GoodsReceived }},
}

// MutationGuard decides which field groups a caller may change.
type MutationGuard struct{}

func NewMutationGuard() *MutationGuard {
	return &MutationGuard{}
}

// Check compares current and proposed group by group. Unchanged groups are
// always accepted; a changed group needs the owning role, the owning role's
// status window, and the owning role must not have sealed yet. The returned
// Forbidden error lists every offending group.
func (g *MutationGuard) Check(current, proposed *models.Document, callerRoles, sealed models.RoleSet) error {
	if current.Kind == models.KindArchived {
		return apperr.Forbidden("document %s is archived", current.ID)
	}

	cur, prop := current.Sections.Normalized(), proposed.Sections.Normalized()
	var denied, reasons []string
	for _, fg := range fieldGroups {
		same, err := canonhash.Equal(fg.extract(&cur), fg.extract(&prop))
		if err != nil {
			return apperr.InvalidInput("field group %s cannot be compared", fg.name).Wrap(err)
		}
		if same {
			continue
		}
		reason := ""
		switch {
		case fg.frozenAfterNew && current.Status != models.StatusNew:
			reason = fmt.Sprintf("%s is immutable once status left %s", fg.name, models.StatusNew)
		case !callerRoles.Has(fg.owner):
			reason = fmt.Sprintf("%s requires role %s", fg.name, fg.owner)
		case current.Status != fg.requiredStatus:
			reason = fmt.Sprintf("%s requires status %s, document is %s", fg.name, fg.requiredStatus, current.Status)
		case sealed.Has(fg.owner):
			reason = fmt.Sprintf("%s is sealed by %s", fg.name, fg.owner)
		}
		if reason != "" {
			denied = append(denied, fg.name)
			reasons = append(reasons, reason)
		}
	}

	if len(denied) > 0 {
		return apperr.Forbidden("%s", joinReasons(reasons)).WithFields(denied...)
	}
	return nil
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

// ChangedGroups lists the names of groups that differ between a and b.
func ChangedGroups(a, b *models.Sections) []string {
	na, nb := a.Normalized(), b.Normalized()
	var out []string
	for _, fg := range fieldGroups {
		if same, err := canonhash.Equal(fg.extract(&na), fg.extract(&nb)); err != nil || !same {
			out = append(out, fg.name)
		}
	}
	return out
}

// frozenAt reports whether the guard refuses any further change to fg once
// the roles in sealed have sealed: its owner sealed, or the status they
// derive has moved past the group's edit window.
func (fg fieldGroup) frozenAt(sealed models.RoleSet) bool {
	if sealed.Has(fg.owner) {
		return true
	}
	return lifecycle.Derive(sealed, false).Rank() > fg.requiredStatus.Rank()
}

// snapshotHash hashes every group frozen once the roles in sealed have
// sealed. A seal therefore covers everything nobody may edit any more,
// including observations written by a role that never sealed.
func snapshotHash(s *models.Sections, sealed models.RoleSet) (string, error) {
	n := s.Normalized()
	covered := make(map[string]any)
	for _, fg := range fieldGroups {
		if fg.frozenAt(sealed) {
			covered[fg.name] = fg.extract(&n)
		}
	}
	hash, _, err := canonhash.SumObject(covered)
	return hash, err
}
