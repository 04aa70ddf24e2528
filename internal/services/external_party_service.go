package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/utils"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

// TANDelivery hands a freshly issued clear TAN to whatever channel reaches
// the party (SMS, e-mail). The TAN is never stored in clear.
type TANDelivery func(ctx context.Context, party *models.ExternalParty, tan string) error

// LogTANDelivery only records that a TAN went out.
func LogTANDelivery(logger *zap.Logger) TANDelivery {
	return func(ctx context.Context, party *models.ExternalParty, tan string) error {
		logger.Info("TAN issued", zap.String("party_id", party.ID), zap.Int("length", len(tan)))
		return nil
	}
}

type RegisterPartyRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type RegisteredParty struct {
	Party     *models.ExternalParty `json:"party"`
	UserToken string                `json:"userToken"`
}

type ExternalPartyService struct {
	repo      repository.Repository
	deliver   TANDelivery
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
	tanLength int
	tanTTL    time.Duration
	now       func() time.Time
}

func NewExternalPartyService(
	repo repository.Repository,
	deliver TANDelivery,
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	tanLength int,
	tanTTL time.Duration,
) *ExternalPartyService {
	return &ExternalPartyService{
		repo:      repo,
		deliver:   deliver,
		logger:    logger.With(zap.String("service", "external_party_service")),
		metrics:   metrics,
		tanLength: tanLength,
		tanTTL:    tanTTL,
		now:       time.Now,
	}
}

// Register creates an active party with a fresh user token. The token is
// returned once; clients keep it.
func (es *ExternalPartyService) Register(ctx context.Context, p Principal, req RegisterPartyRequest) (*RegisteredParty, error) {
	if _, ok := p.(InternalUser); !ok {
		return nil, apperr.Forbidden("external parties are registered by internal users only")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.InvalidInput("name required").WithFields("name")
	}
	if req.Email == "" && req.Phone == "" {
		return nil, apperr.InvalidInput("email or phone required").WithFields("email", "phone")
	}
	token, err := utils.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	party := &models.ExternalParty{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     req.Email,
		Phone:     req.Phone,
		UserToken: token,
		Active:    true,
	}
	if err := es.repo.SaveExternalParty(ctx, party); err != nil {
		return nil, err
	}
	es.metrics.IncrementCounter("external_parties_registered", nil)
	es.logger.Info("External party registered", zap.String("party_id", party.ID), zap.String("by", p.Subject()))
	return &RegisteredParty{Party: party, UserToken: token}, nil
}

// IssueTAN rotates the party's TAN. The previous TAN stops working
// immediately. A delivery failure leaves the new TAN in place and is
// reported as an external dependency failure.
func (es *ExternalPartyService) IssueTAN(ctx context.Context, p Principal, partyID string) (time.Time, error) {
	if _, ok := p.(InternalUser); !ok {
		return time.Time{}, apperr.Forbidden("TANs are issued by internal users only")
	}
	party, err := es.repo.GetExternalParty(ctx, partyID)
	if err != nil {
		return time.Time{}, err
	}
	if !party.Active {
		return time.Time{}, apperr.Forbidden("external party %s is deactivated", partyID)
	}

	tan, err := utils.NewNumericCode(es.tanLength)
	if err != nil {
		return time.Time{}, err
	}
	hash, err := utils.EncryptPassword(tan)
	if err != nil {
		return time.Time{}, err
	}
	expires := es.now().Add(es.tanTTL).UTC()
	party.TANHash = hash
	party.TANExpiresAt = &expires
	if err := es.repo.SaveExternalParty(ctx, party); err != nil {
		return time.Time{}, err
	}
	es.metrics.IncrementCounter("tans_issued", nil)

	if err := es.deliver(ctx, party, tan); err != nil {
		es.logger.Error("TAN delivery failed", zap.String("party_id", partyID), zap.Error(err))
		return expires, apperr.External(err, "TAN delivery failed")
	}
	return expires, nil
}

// Deactivate disables the party; its TAN and assignments stop resolving.
func (es *ExternalPartyService) Deactivate(ctx context.Context, p Principal, partyID string) error {
	if _, ok := p.(InternalUser); !ok {
		return apperr.Forbidden("external parties are managed by internal users only")
	}
	party, err := es.repo.GetExternalParty(ctx, partyID)
	if err != nil {
		return err
	}
	if !party.Active {
		return nil
	}
	party.Active = false
	party.TANHash = ""
	party.TANExpiresAt = nil
	if err := es.repo.SaveExternalParty(ctx, party); err != nil {
		return err
	}
	es.logger.Info("External party deactivated", zap.String("party_id", partyID), zap.String("by", p.Subject()))
	return nil
}
