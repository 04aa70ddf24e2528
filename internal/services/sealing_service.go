package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/lifecycle"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

// maxVersionRetries bounds the optimistic check-and-write loops.
const maxVersionRetries = 5

type SealRequest struct {
	DocumentID    string
	Role          models.Role
	PrecedingSeal string
	SealerContext string
}

type SealingService struct {
	repo     repository.Repository
	resolver *RoleResolver
	signer   Signer
	notifier *lifecycle.Notifier
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

func NewSealingService(
	repo repository.Repository,
	resolver *RoleResolver,
	signer Signer,
	notifier *lifecycle.Notifier,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
) *SealingService {
	return &SealingService{
		repo:     repo,
		resolver: resolver,
		signer:   signer,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "sealing_service")),
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateSeal appends a seal for req.Role to the document's chain. The
// "role not sealed yet" check and the insert are one versioned write; a lost
// race is retried from a fresh read.
func (ss *SealingService) CreateSeal(ctx context.Context, p Principal, req SealRequest) (*models.Seal, error) {
	start := time.Now()
	if !req.Role.Sealable() {
		return nil, apperr.InvalidInput("role %q cannot seal", req.Role)
	}
	if !ss.resolver.Roles(ctx, p, req.DocumentID).Has(req.Role) {
		if _, err := ss.repo.GetDocument(ctx, req.DocumentID); err != nil {
			return nil, err
		}
		return nil, apperr.Forbidden("caller does not hold role %s on document %s", req.Role, req.DocumentID)
	}

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		seal, change, err := ss.trySeal(ctx, p, req)
		if errors.Is(err, repository.ErrStaleVersion) {
			ss.metrics.IncrementCounter("seal_retries", nil)
			continue
		}
		if err != nil {
			ss.metrics.IncrementCounter("seal_rejected", map[string]string{"reason": apperr.Code(err)})
			return nil, err
		}

		ss.metrics.IncrementCounter("seals_created", map[string]string{"role": string(req.Role)})
		ss.metrics.ObserveLatency("seal_create", time.Since(start))
		ss.logger.Info("Seal created",
			zap.String("doc_id", req.DocumentID),
			zap.String("role", string(req.Role)),
			zap.String("sealer", seal.Sealer),
			zap.String("seal_id", seal.ID))
		if change.From != change.To {
			ss.notifier.Notify(ctx, change)
		}
		return seal, nil
	}
	return nil, apperr.Conflict("document %s changed concurrently, retry later", req.DocumentID)
}

func (ss *SealingService) trySeal(ctx context.Context, p Principal, req SealRequest) (*models.Seal, lifecycle.StatusChange, error) {
	var change lifecycle.StatusChange

	doc, err := ss.repo.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, change, err
	}
	switch doc.Kind {
	case models.KindArchived:
		return nil, change, apperr.Forbidden("document %s is archived", doc.ID)
	case models.KindTemplate:
		return nil, change, apperr.Forbidden("templates cannot be sealed")
	}

	stored, err := ss.repo.ListSeals(ctx, doc.ID)
	if err != nil {
		return nil, change, err
	}
	// The stored chain is re-verified before it is extended.
	ordered, err := VerifyDocument(doc, stored)
	if err != nil {
		ss.logger.Error("stored seal chain failed verification",
			zap.String("doc_id", doc.ID), zap.Error(err))
		return nil, change, fmt.Errorf("stored seal chain of document %s is corrupt: %v", doc.ID, err)
	}
	sealed := lifecycle.SealedRoles(ordered)

	if sealed.Has(req.Role) {
		return nil, change, apperr.Conflict("role %s already sealed document %s", req.Role, doc.ID)
	}
	if err := checkChainReference(req, chainTail(ordered)); err != nil {
		return nil, change, err
	}
	if err := checkSealPreconditions(doc, req.Role, sealed); err != nil {
		return nil, change, err
	}

	seal := &models.Seal{
		ID:               uuid.NewString(),
		DocumentID:       doc.ID,
		Role:             req.Role,
		Sealer:           p.Subject(),
		SealerContext:    req.SealerContext,
		SignedAt:         ss.now().UTC().Truncate(time.Microsecond),
		PrecedingSealRef: req.PrecedingSeal,
	}
	covered := sealed.Clone()
	covered.Add(req.Role)
	if seal.SnapshotHash, err = snapshotHash(&doc.Sections, covered); err != nil {
		return nil, change, err
	}

	// The key id is part of the signed payload, so fetch the key first.
	if err := ss.sign(ctx, seal); err != nil {
		return nil, change, err
	}

	expected := doc.Version
	change = lifecycle.StatusChange{DocumentID: doc.ID, From: doc.Status, Cause: "seal:" + string(req.Role)}
	doc.Status = lifecycle.Derive(covered, doc.ArrivedAt != nil)
	doc.UpdatedBy = p.Subject()
	change.To = doc.Status
	if err := ss.repo.AppendSeal(ctx, seal, doc, expected); err != nil {
		return nil, change, err
	}
	return seal, change, nil
}

func (ss *SealingService) sign(ctx context.Context, seal *models.Seal) error {
	pubPEM, keyID, err := ss.signer.PublicKey(ctx, seal.Sealer)
	if err != nil {
		return err
	}
	seal.KeyID = keyID
	seal.PublicKey = pubPEM
	seal.Algorithm = SealAlgorithm

	digest, err := sealDigest(seal)
	if err != nil {
		return err
	}
	sig, err := ss.signer.SignDigest(ctx, seal.Sealer, digest)
	if err != nil {
		return err
	}
	if sig.KeyID != seal.KeyID {
		return fmt.Errorf("signing key of %s rotated while sealing", seal.Sealer)
	}
	seal.Signature = base64.StdEncoding.EncodeToString(sig.Value)
	return nil
}

func checkChainReference(req SealRequest, tail *models.Seal) error {
	if req.Role == models.RoleSender {
		if req.PrecedingSeal != "" {
			return apperr.InvalidInput("the %s seal heads the chain and takes no preceding seal", models.RoleSender).
				WithFields("precedingSeal")
		}
		return nil
	}
	if tail == nil {
		return apperr.InvalidInput("no seal chain to extend; %s must seal first", models.RoleSender).
			WithFields("precedingSeal")
	}
	if req.PrecedingSeal != tail.Signature {
		return apperr.InvalidInput("preceding seal does not match the current chain tail (%s)", tail.Role).
			WithFields("precedingSeal")
	}
	return nil
}

// checkSealPreconditions enforces draft completeness and role order.
func checkSealPreconditions(doc *models.Document, role models.Role, sealed models.RoleSet) error {
	s := &doc.Sections
	var missing []string
	switch role {
	case models.RoleSender:
		if !s.Sender.Populated() {
			missing = append(missing, "sender")
		}
		if !s.Carrier.Populated() {
			missing = append(missing, "carrier")
		}
		if !s.Consignee.Populated() {
			missing = append(missing, "consignee")
		}
		if !s.TakingOver.Populated() {
			missing = append(missing, "takingOver")
		}
		if len(s.Items) == 0 {
			missing = append(missing, "items")
		}
	case models.RoleCarrier:
		if !sealed.Has(models.RoleSender) {
			return apperr.Forbidden("%s has not sealed yet", models.RoleSender)
		}
	case models.RoleSuccessiveCarrier:
		if !sealed.Has(models.RoleCarrier) {
			return apperr.Forbidden("%s has not sealed yet", models.RoleCarrier)
		}
		if sealed.Has(models.RoleConsignee) {
			return apperr.Forbidden("document already delivered")
		}
	case models.RoleConsignee:
		if !sealed.Has(models.RoleCarrier) {
			return apperr.Forbidden("%s has not sealed yet", models.RoleCarrier)
		}
		if !s.GoodsReceived.Populated() {
			missing = append(missing, "goodsReceived")
		}
	}
	if len(missing) > 0 {
		return apperr.Forbidden("document incomplete for %s seal", role).WithFields(missing...)
	}
	return nil
}

// ListChain returns the document's seals in chain order. Any role on the
// document may read it.
func (ss *SealingService) ListChain(ctx context.Context, p Principal, documentID string) ([]models.Seal, error) {
	if _, err := ss.readable(ctx, p, documentID); err != nil {
		return nil, err
	}
	seals, err := ss.repo.ListSeals(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return OrderChain(seals)
}

type VerificationReport struct {
	DocumentID    string                `json:"documentId"`
	Valid         bool                  `json:"valid"`
	Reason        string                `json:"reason,omitempty"`
	StoredStatus  models.DocumentStatus `json:"storedStatus"`
	DerivedStatus models.DocumentStatus `json:"derivedStatus"`
	Seals         int                   `json:"seals"`
	Chain         string                `json:"chain,omitempty"`
}

// Verify re-walks and re-verifies the full stored chain against the current
// content and checks the stored status against the derived one.
func (ss *SealingService) Verify(ctx context.Context, p Principal, documentID string) (*VerificationReport, error) {
	doc, err := ss.readable(ctx, p, documentID)
	if err != nil {
		return nil, err
	}
	seals, err := ss.repo.ListSeals(ctx, documentID)
	if err != nil {
		return nil, err
	}
	report := &VerificationReport{DocumentID: documentID, StoredStatus: doc.Status, Seals: len(seals)}
	ordered, err := VerifyDocument(doc, seals)
	if err != nil {
		report.Reason = err.Error()
		ss.metrics.IncrementCounter("chain_verifications", map[string]string{"result": "invalid"})
		return report, nil
	}
	report.DerivedStatus = lifecycle.Recompute(doc, ordered)
	report.Chain = describeChain(ordered)
	report.Valid = report.DerivedStatus == doc.Status
	if !report.Valid {
		report.Reason = fmt.Sprintf("stored status %s differs from derived status %s", doc.Status, report.DerivedStatus)
	}
	ss.metrics.IncrementCounter("chain_verifications", map[string]string{"result": fmt.Sprint(report.Valid)})
	return report, nil
}

func (ss *SealingService) readable(ctx context.Context, p Principal, documentID string) (*models.Document, error) {
	doc, err := ss.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if ss.resolver.Roles(ctx, p, documentID).Empty() {
		return nil, apperr.Forbidden("no role on document %s", documentID)
	}
	return doc, nil
}
