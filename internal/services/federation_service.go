package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/lifecycle"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/utils"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/canonhash"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

// Bundle is the federation wire format: the full field set plus the whole
// seal chain. Status is informational; importers derive their own. ArrivedAt
// is honored only when the chain carries a verified consignee seal.
type Bundle struct {
	ID        string                `json:"id"`
	Kind      models.DocumentKind   `json:"kind"`
	Status    models.DocumentStatus `json:"status"`
	Role      models.Role           `json:"role"`
	Sections  models.Sections       `json:"sections"`
	CreatedAt time.Time             `json:"createdAt"`
	ArrivedAt *time.Time            `json:"arrivedAt,omitempty"`
	SealChain []models.Seal         `json:"sealChain"`
}

type ImportRequest struct {
	SourceURL           string   `json:"sourceUrl"`
	ID                  string   `json:"id"`
	ShareToken          string   `json:"shareToken"`
	DestinationGroupIDs []string `json:"destinationGroupIds"`
}

// BundleFetcher retrieves an export bundle from a remote deployment.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, sourceURL, documentID, shareToken string) (*Bundle, error)
}

type HTTPBundleFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPBundleFetcher(timeout time.Duration, maxBytes int64) *HTTPBundleFetcher {
	return &HTTPBundleFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// ExportURL builds the export endpoint of a deployment rooted at base.
func ExportURL(base, documentID, shareToken string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	u = u.JoinPath("external", "document", documentID, "export")
	u.RawQuery = url.Values{"shareToken": []string{shareToken}}.Encode()
	return u.String(), nil
}

func (f *HTTPBundleFetcher) FetchBundle(ctx context.Context, sourceURL, documentID, shareToken string) (*Bundle, error) {
	target, err := ExportURL(sourceURL, documentID, shareToken)
	if err != nil {
		return nil, apperr.InvalidInput("source url: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.InvalidInput("source url: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.External(err, "federation peer unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, apperr.External(err, "reading federation response")
	}
	if int64(len(body)) > f.maxBytes {
		return nil, apperr.External(nil, "federation bundle exceeds %d bytes", f.maxBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External(nil, "federation peer answered %d", resp.StatusCode)
	}
	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, apperr.External(err, "federation bundle is not valid JSON")
	}
	return &bundle, nil
}

type FederationService struct {
	repo     repository.Repository
	resolver *RoleResolver
	fetcher  BundleFetcher
	notifier *lifecycle.Notifier
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

func NewFederationService(
	repo repository.Repository,
	resolver *RoleResolver,
	fetcher BundleFetcher,
	notifier *lifecycle.Notifier,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
) *FederationService {
	return &FederationService{
		repo:     repo,
		resolver: resolver,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "federation_service")),
		metrics:  metrics,
		now:      time.Now,
	}
}

func hashShareToken(token string) string {
	return canonhash.HashStringSHA256Hex("share-token:" + token)
}

// IssueShareToken creates the token for the (document, role) slot,
// invalidating whatever token held the slot before. Only internal users
// holding a sealing role on the document may issue tokens.
func (fs *FederationService) IssueShareToken(ctx context.Context, p Principal, documentID string, role models.Role) (string, error) {
	if !role.Valid() {
		return "", apperr.InvalidInput("unknown role %q", role).WithFields("role")
	}
	user, ok := p.(InternalUser)
	if !ok {
		return "", apperr.Forbidden("share tokens are issued by internal users only")
	}
	doc, err := fs.repo.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc.Kind == models.KindTemplate {
		return "", apperr.Forbidden("templates cannot be shared")
	}
	roles := fs.resolver.Roles(ctx, user, documentID)
	roles = roles.Clone()
	delete(roles, models.RoleReader)
	if roles.Empty() {
		return "", apperr.Forbidden("no sealing role on document %s", documentID)
	}

	token, err := utils.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := fs.repo.UpsertShareToken(ctx, &models.ShareToken{
		DocumentID: documentID,
		Role:       role,
		TokenHash:  hashShareToken(token),
		IssuedBy:   user.Subject(),
		IssuedAt:   fs.now(),
	}); err != nil {
		return "", err
	}
	fs.metrics.IncrementCounter("share_tokens_issued", map[string]string{"role": string(role)})
	fs.logger.Info("Share token issued",
		zap.String("doc_id", documentID),
		zap.String("role", string(role)),
		zap.String("issued_by", user.Subject()))
	return token, nil
}

// Export returns the document and its complete chain to the holder of an
// active share token. The chain is never filtered by role.
func (fs *FederationService) Export(ctx context.Context, documentID, token string) (*Bundle, error) {
	if token == "" {
		return nil, apperr.Forbidden("share token required")
	}
	slot, err := fs.repo.GetShareTokenByHash(ctx, hashShareToken(token))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Forbidden("share token invalid")
		}
		return nil, err
	}
	if slot.DocumentID != documentID {
		return nil, apperr.Forbidden("share token invalid for this document")
	}
	doc, err := fs.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	seals, err := fs.repo.ListSeals(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ordered, err := OrderChain(seals)
	if err != nil {
		return nil, fmt.Errorf("stored seal chain of document %s is corrupt: %v", documentID, err)
	}
	if ordered == nil {
		ordered = []models.Seal{}
	}

	fs.metrics.IncrementCounter("documents_exported", map[string]string{"role": string(slot.Role)})
	fs.logger.Info("Document exported",
		zap.String("doc_id", documentID),
		zap.String("role", string(slot.Role)),
		zap.Int("seals", len(ordered)))
	return &Bundle{
		ID:        doc.ID,
		Kind:      doc.Kind,
		Status:    doc.Status,
		Role:      slot.Role,
		Sections:  doc.Sections,
		CreatedAt: doc.CreatedAt,
		ArrivedAt: doc.ArrivedAt,
		SealChain: ordered,
	}, nil
}

// Import fetches a bundle from a peer, verifies the whole chain against the
// received content and only then stores document, seals and assignments in
// one transaction. A failed fetch is reported, never retried.
func (fs *FederationService) Import(ctx context.Context, p Principal, req ImportRequest) (*models.Document, error) {
	start := time.Now()
	user, ok := p.(InternalUser)
	if !ok {
		return nil, apperr.Forbidden("import requires an internal user")
	}
	if err := fs.validateImport(ctx, user, req); err != nil {
		return nil, err
	}

	if _, err := fs.repo.GetDocument(ctx, req.ID); err == nil {
		return nil, apperr.Conflict("document %s already exists locally", req.ID)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	bundle, err := fs.fetcher.FetchBundle(ctx, req.SourceURL, req.ID, req.ShareToken)
	if err != nil {
		fs.metrics.IncrementCounter("imports_failed", map[string]string{"reason": apperr.Code(err)})
		fs.logger.Warn("Federation fetch failed", zap.String("source", req.SourceURL), zap.String("doc_id", req.ID), zap.Error(err))
		return nil, err
	}

	doc, seals, err := fs.verifiedDocument(bundle, req, user)
	if err != nil {
		fs.metrics.IncrementCounter("imports_failed", map[string]string{"reason": apperr.Code(err)})
		fs.logger.Warn("Rejected federation bundle", zap.String("source", req.SourceURL), zap.String("doc_id", req.ID), zap.Error(err))
		return nil, err
	}

	assignments := make([]models.Assignment, 0, len(req.DestinationGroupIDs))
	for _, g := range req.DestinationGroupIDs {
		assignments = append(assignments, models.Assignment{
			DocumentID:    doc.ID,
			PrincipalType: models.PrincipalGroup,
			PrincipalID:   g,
			Role:          bundle.Role,
		})
	}
	if err := fs.repo.ImportDocument(ctx, doc, seals, assignments); err != nil {
		return nil, err
	}

	fs.metrics.IncrementCounter("documents_imported", nil)
	fs.metrics.ObserveLatency("document_import", time.Since(start))
	fs.logger.Info("Document imported",
		zap.String("doc_id", doc.ID),
		zap.String("source", req.SourceURL),
		zap.String("status", string(doc.Status)),
		zap.Int("seals", len(seals)))
	fs.notifier.Notify(ctx, lifecycle.StatusChange{DocumentID: doc.ID, To: doc.Status, Cause: "import"})
	return doc, nil
}

func (fs *FederationService) validateImport(ctx context.Context, user InternalUser, req ImportRequest) error {
	u, err := url.Parse(req.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.InvalidInput("sourceUrl must be an absolute http(s) url").WithFields("sourceUrl")
	}
	if strings.TrimSpace(req.ID) == "" {
		return apperr.InvalidInput("document id required").WithFields("id")
	}
	if req.ShareToken == "" {
		return apperr.InvalidInput("share token required").WithFields("shareToken")
	}
	if len(req.DestinationGroupIDs) == 0 {
		return apperr.InvalidInput("at least one destination group required").WithFields("destinationGroupIds")
	}
	for _, g := range req.DestinationGroupIDs {
		if !user.InGroup(g) {
			return apperr.Forbidden("caller is not a member of group %s", g)
		}
		exists, err := fs.repo.GroupExists(ctx, g)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("group %s", g)
		}
	}
	return nil
}

// verifiedDocument turns a received bundle into local rows. Nothing from the
// bundle is trusted until the chain and every snapshot verified.
func (fs *FederationService) verifiedDocument(bundle *Bundle, req ImportRequest, user InternalUser) (*models.Document, []models.Seal, error) {
	if bundle.ID != req.ID {
		return nil, nil, apperr.InvalidInput("bundle is for document %s, requested %s", bundle.ID, req.ID)
	}
	if !bundle.Role.Valid() {
		return nil, nil, apperr.InvalidInput("bundle carries unknown role %q", bundle.Role)
	}
	kind := models.KindDraft
	switch bundle.Kind {
	case models.KindDraft, "":
	case models.KindArchived:
		kind = models.KindArchived
	case models.KindTemplate:
		return nil, nil, apperr.InvalidInput("templates cannot be imported")
	default:
		return nil, nil, apperr.InvalidInput("bundle carries unknown kind %q", bundle.Kind)
	}

	now := fs.now()
	doc := &models.Document{
		ID:           bundle.ID,
		Kind:         kind,
		Version:      1,
		Sections:     bundle.Sections,
		CreatedBy:    user.Subject(),
		UpdatedBy:    user.Subject(),
		CreatedAt:    now,
		UpdatedAt:    now,
		ImportedFrom: req.SourceURL,
	}
	ordered, err := VerifyDocument(doc, bundle.SealChain)
	if err != nil {
		return nil, nil, err
	}
	delivered := lifecycle.SealedRoles(ordered).Has(models.RoleConsignee)
	if kind == models.KindArchived && !delivered {
		return nil, nil, apperr.InvalidInput("archived bundle lacks a consignee seal")
	}
	if delivered && bundle.ArrivedAt != nil {
		arrived := bundle.ArrivedAt.UTC()
		doc.ArrivedAt = &arrived
	}
	doc.Status = lifecycle.Recompute(doc, ordered)
	return doc, ordered, nil
}
