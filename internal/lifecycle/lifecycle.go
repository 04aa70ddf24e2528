// Package lifecycle derives a document's status from the roles that sealed it
// and fans status changes out to registered callbacks.
package lifecycle

import (
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
)

// Derive maps the set of sealed roles to a status. arrived is the
// administrative arrival mark, only honoured once the consignee sealed.
// SUCCESSIVE_CARRIER and READER never move the status.
func Derive(sealed models.RoleSet, arrived bool) models.DocumentStatus {
	switch {
	case sealed.Has(models.RoleConsignee) && arrived:
		return models.StatusArrivedAtDestination
	case sealed.Has(models.RoleConsignee):
		return models.StatusDelivered
	case sealed.Has(models.RoleCarrier):
		return models.StatusInTransport
	case sealed.Has(models.RoleSender):
		return models.StatusLoading
	default:
		return models.StatusNew
	}
}

// SealedRoles collects the roles present in a seal list.
func SealedRoles(seals []models.Seal) models.RoleSet {
	set := models.NewRoleSet()
	for _, s := range seals {
		set.Add(s.Role)
	}
	return set
}

// Recompute derives the status for doc from seals without mutating doc.
func Recompute(doc *models.Document, seals []models.Seal) models.DocumentStatus {
	return Derive(SealedRoles(seals), doc.ArrivedAt != nil)
}
