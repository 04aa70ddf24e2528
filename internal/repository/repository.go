// Package repository persists documents, their assignments and seal chains.
//
// Seals and assignments live in their own tables keyed by document id; the
// document row never points back at them.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
)

// ErrStaleVersion is returned when an optimistic update lost the race; the
// caller reloads and retries.
var ErrStaleVersion = errors.New("document version changed concurrently")

type Repository interface {
	CreateDocument(ctx context.Context, doc *models.Document, assignments []models.Assignment) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// UpdateDocument writes doc if the stored version still equals
	// expectedVersion and bumps doc.Version.
	UpdateDocument(ctx context.Context, doc *models.Document, expectedVersion int64) error
	// DeleteDocument removes an unsealed document if the stored version
	// still equals expectedVersion. A document holding any seal is refused
	// with Forbidden.
	DeleteDocument(ctx context.Context, id string, expectedVersion int64) error
	ListArchivable(ctx context.Context, olderThan time.Time) ([]models.Document, error)

	ListSeals(ctx context.Context, documentID string) ([]models.Seal, error)
	// AppendSeal inserts seal and writes doc (new status) in one unit,
	// guarded by expectedVersion.
	AppendSeal(ctx context.Context, seal *models.Seal, doc *models.Document, expectedVersion int64) error
	// ImportDocument stores a verified document with its seals and
	// assignments, all or nothing.
	ImportDocument(ctx context.Context, doc *models.Document, seals []models.Seal, assignments []models.Assignment) error

	ListAssignments(ctx context.Context, documentID string) ([]models.Assignment, error)
	AddAssignment(ctx context.Context, a *models.Assignment) error

	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	SaveGroup(ctx context.Context, g *models.Group) error
	AddGroupMember(ctx context.Context, groupID string, userID uint) error
	GroupIDsForUser(ctx context.Context, userID uint) ([]string, error)
	GroupExists(ctx context.Context, groupID string) (bool, error)

	SaveExternalParty(ctx context.Context, p *models.ExternalParty) error
	GetExternalParty(ctx context.Context, id string) (*models.ExternalParty, error)
	GetExternalPartyByToken(ctx context.Context, userToken string) (*models.ExternalParty, error)

	// UpsertShareToken replaces whatever token occupied the same slot.
	UpsertShareToken(ctx context.Context, t *models.ShareToken) error
	GetShareTokenByHash(ctx context.Context, tokenHash string) (*models.ShareToken, error)

	GetKeyShare(ctx context.Context, owner string) (*models.KeyShare, error)
	SaveKeyShare(ctx context.Context, k *models.KeyShare) error
}
