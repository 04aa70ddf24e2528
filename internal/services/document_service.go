package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/lifecycle"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

type CreateDocumentRequest struct {
	Kind     models.DocumentKind
	GroupID  string
	Sections models.Sections
}

type AssignmentRequest struct {
	PrincipalType models.PrincipalType
	PrincipalID   string
	Role          models.Role
}

// DocumentView is a document together with what the caller may do on it.
type DocumentView struct {
	Document    *models.Document `json:"document"`
	Roles       []models.Role    `json:"roles"`
	SealedRoles []models.Role    `json:"sealedRoles"`
}

type DocumentService struct {
	repo     repository.Repository
	resolver *RoleResolver
	guard    *MutationGuard
	notifier *lifecycle.Notifier
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

func NewDocumentService(
	repo repository.Repository,
	resolver *RoleResolver,
	guard *MutationGuard,
	notifier *lifecycle.Notifier,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
) *DocumentService {
	return &DocumentService{
		repo:     repo,
		resolver: resolver,
		guard:    guard,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "document_service")),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Create stores a new NEW document and assigns SENDER to the creating group.
// Only internal users create documents.
func (ds *DocumentService) Create(ctx context.Context, p Principal, req CreateDocumentRequest) (*models.Document, error) {
	start := time.Now()
	user, ok := p.(InternalUser)
	if !ok {
		return nil, apperr.Forbidden("documents are created by internal users only")
	}
	kind := req.Kind
	if kind == "" {
		kind = models.KindDraft
	}
	if kind != models.KindDraft && kind != models.KindTemplate {
		return nil, apperr.InvalidInput("kind must be %s or %s", models.KindDraft, models.KindTemplate).WithFields("kind")
	}

	groupID := req.GroupID
	if groupID == "" {
		if len(user.GroupIDs) == 0 {
			return nil, apperr.Forbidden("caller belongs to no group")
		}
		groupID = user.GroupIDs[0]
	}
	if !user.InGroup(groupID) {
		return nil, apperr.Forbidden("caller is not a member of group %s", groupID)
	}

	empty := &models.Document{Kind: kind, Status: models.StatusNew}
	doc := &models.Document{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    models.StatusNew,
		Version:   1,
		Sections:  req.Sections.Normalized(),
		CreatedBy: user.Subject(),
		UpdatedBy: user.Subject(),
	}
	if err := ds.guard.Check(empty, doc, models.NewRoleSet(models.RoleSender), models.NewRoleSet()); err != nil {
		return nil, err
	}

	assignment := models.Assignment{
		DocumentID:    doc.ID,
		PrincipalType: models.PrincipalGroup,
		PrincipalID:   groupID,
		Role:          models.RoleSender,
	}
	if err := ds.repo.CreateDocument(ctx, doc, []models.Assignment{assignment}); err != nil {
		return nil, err
	}

	ds.metrics.IncrementCounter("documents_created", map[string]string{"kind": string(kind)})
	ds.metrics.ObserveLatency("document_create", time.Since(start))
	ds.logger.Info("Document created",
		zap.String("doc_id", doc.ID),
		zap.String("kind", string(kind)),
		zap.String("group_id", groupID),
		zap.String("created_by", user.Subject()))
	return doc, nil
}

// access loads the document and the caller's roles on it. A caller with no
// role gets Forbidden; a missing document is NotFound.
func (ds *DocumentService) access(ctx context.Context, p Principal, documentID string) (*models.Document, models.RoleSet, error) {
	doc, err := ds.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	roles := ds.resolver.Roles(ctx, p, documentID)
	if roles.Empty() {
		return nil, nil, apperr.Forbidden("no role on document %s", documentID)
	}
	return doc, roles, nil
}

func (ds *DocumentService) Get(ctx context.Context, p Principal, documentID string) (*DocumentView, error) {
	doc, roles, err := ds.access(ctx, p, documentID)
	if err != nil {
		return nil, err
	}
	seals, err := ds.repo.ListSeals(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentView{
		Document:    doc,
		Roles:       roles.Slice(),
		SealedRoles: lifecycle.SealedRoles(seals).Slice(),
	}, nil
}

// Update replaces the document's sections after the mutation guard accepted
// every changed field group. Status and audit fields are never taken from
// the caller.
func (ds *DocumentService) Update(ctx context.Context, p Principal, documentID string, sections models.Sections) (*models.Document, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		doc, err := ds.tryUpdate(ctx, p, documentID, sections)
		if errors.Is(err, repository.ErrStaleVersion) {
			ds.metrics.IncrementCounter("document_update_retries", nil)
			continue
		}
		if err != nil {
			ds.metrics.IncrementCounter("document_update_rejected", map[string]string{"reason": apperr.Code(err)})
			return nil, err
		}
		return doc, nil
	}
	return nil, apperr.Conflict("document %s changed concurrently, retry later", documentID)
}

func (ds *DocumentService) tryUpdate(ctx context.Context, p Principal, documentID string, sections models.Sections) (*models.Document, error) {
	current, roles, err := ds.access(ctx, p, documentID)
	if err != nil {
		return nil, err
	}
	seals, err := ds.repo.ListSeals(ctx, documentID)
	if err != nil {
		return nil, err
	}
	proposed := current.Clone()
	proposed.Sections = sections.Normalized()
	if err := ds.guard.Check(current, proposed, roles, lifecycle.SealedRoles(seals)); err != nil {
		return nil, err
	}

	changed := ChangedGroups(&current.Sections, &proposed.Sections)
	if len(changed) == 0 {
		return current, nil
	}
	proposed.UpdatedBy = p.Subject()
	if err := ds.repo.UpdateDocument(ctx, proposed, current.Version); err != nil {
		return nil, err
	}
	ds.metrics.IncrementCounter("documents_updated", nil)
	ds.logger.Info("Document updated",
		zap.String("doc_id", documentID),
		zap.Strings("groups", changed),
		zap.String("updated_by", p.Subject()))
	return proposed, nil
}

// Delete removes an unsealed document. Only a SENDER may delete.
func (ds *DocumentService) Delete(ctx context.Context, p Principal, documentID string) error {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err := ds.tryDelete(ctx, p, documentID)
		if errors.Is(err, repository.ErrStaleVersion) {
			continue
		}
		if err != nil {
			return err
		}
		ds.metrics.IncrementCounter("documents_deleted", nil)
		ds.logger.Info("Document deleted", zap.String("doc_id", documentID), zap.String("deleted_by", p.Subject()))
		return nil
	}
	return apperr.Conflict("document %s changed concurrently, retry later", documentID)
}

func (ds *DocumentService) tryDelete(ctx context.Context, p Principal, documentID string) error {
	doc, roles, err := ds.access(ctx, p, documentID)
	if err != nil {
		return err
	}
	if !roles.Has(models.RoleSender) {
		return apperr.Forbidden("only the sender may delete document %s", documentID)
	}
	seals, err := ds.repo.ListSeals(ctx, documentID)
	if err != nil {
		return err
	}
	if len(seals) > 0 {
		return apperr.Forbidden("document %s is sealed and cannot be deleted", documentID)
	}
	return ds.repo.DeleteDocument(ctx, documentID, doc.Version)
}

// AddAssignment lets the sender bind a group or an external party to the
// document under a role.
func (ds *DocumentService) AddAssignment(ctx context.Context, p Principal, documentID string, req AssignmentRequest) (*models.Assignment, error) {
	if !req.Role.Valid() {
		return nil, apperr.InvalidInput("unknown role %q", req.Role).WithFields("role")
	}
	if req.PrincipalID == "" {
		return nil, apperr.InvalidInput("principal id required").WithFields("principalId")
	}
	doc, roles, err := ds.access(ctx, p, documentID)
	if err != nil {
		return nil, err
	}
	if !roles.Has(models.RoleSender) {
		return nil, apperr.Forbidden("only the sender may assign roles on document %s", documentID)
	}
	if doc.Kind == models.KindArchived {
		return nil, apperr.Forbidden("document %s is archived", documentID)
	}

	switch req.PrincipalType {
	case models.PrincipalGroup:
		exists, err := ds.repo.GroupExists(ctx, req.PrincipalID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperr.NotFound("group %s", req.PrincipalID)
		}
	case models.PrincipalExternalParty:
		if _, err := ds.repo.GetExternalParty(ctx, req.PrincipalID); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.InvalidInput("unknown principal type %q", req.PrincipalType).WithFields("principalType")
	}

	existing, err := ds.repo.ListAssignments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		a := existing[i]
		if a.PrincipalType == req.PrincipalType && a.PrincipalID == req.PrincipalID && a.Role == req.Role {
			return &a, nil
		}
	}

	a := &models.Assignment{
		DocumentID:    documentID,
		PrincipalType: req.PrincipalType,
		PrincipalID:   req.PrincipalID,
		Role:          req.Role,
	}
	if err := ds.repo.AddAssignment(ctx, a); err != nil {
		return nil, err
	}
	ds.logger.Info("Assignment added",
		zap.String("doc_id", documentID),
		zap.String("principal_type", string(a.PrincipalType)),
		zap.String("principal_id", a.PrincipalID),
		zap.String("role", string(a.Role)))
	return a, nil
}

// MarkArrived sets the administrative arrival flag on a delivered document.
// Repeating it on an arrived document is a no-op.
func (ds *DocumentService) MarkArrived(ctx context.Context, p Principal, documentID string) (*models.Document, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		doc, roles, err := ds.access(ctx, p, documentID)
		if err != nil {
			return nil, err
		}
		if !roles.Has(models.RoleConsignee) && !roles.Has(models.RoleSender) {
			return nil, apperr.Forbidden("only sender or consignee may mark document %s arrived", documentID)
		}
		doc, err = ds.markArrived(ctx, doc, p.Subject(), "mark_arrived")
		if errors.Is(err, repository.ErrStaleVersion) {
			continue
		}
		return doc, err
	}
	return nil, apperr.Conflict("document %s changed concurrently, retry later", documentID)
}

// markArrived writes the arrival flag and recomputed status, then notifies.
func (ds *DocumentService) markArrived(ctx context.Context, doc *models.Document, actor, cause string) (*models.Document, error) {
	if doc.ArrivedAt != nil {
		return doc, nil
	}
	seals, err := ds.repo.ListSeals(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.SealedRoles(seals).Has(models.RoleConsignee) {
		return nil, apperr.Forbidden("document %s has not been delivered", doc.ID)
	}

	from := doc.Status
	arrived := ds.now().UTC()
	updated := doc.Clone()
	updated.ArrivedAt = &arrived
	updated.UpdatedBy = actor
	updated.Status = lifecycle.Recompute(updated, seals)
	if err := ds.repo.UpdateDocument(ctx, updated, doc.Version); err != nil {
		return nil, err
	}
	ds.logger.Info("Document marked arrived", zap.String("doc_id", doc.ID), zap.String("by", actor))
	if from != updated.Status {
		ds.notifier.Notify(ctx, lifecycle.StatusChange{DocumentID: doc.ID, From: from, To: updated.Status, Cause: cause})
	}
	return updated, nil
}
