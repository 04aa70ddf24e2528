package services

import (
	"context"
	"testing"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/lifecycle"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testKeyBits keeps key generation fast; production config enforces 2048+.
const testKeyBits = 1024

type fixture struct {
	t         *testing.T
	ctx       context.Context
	repo      *repository.MemoryRepository
	metrics   *metrics.MetricsCollector
	notifier  *lifecycle.Notifier
	changes   []lifecycle.StatusChange
	resolver  *RoleResolver
	keys      *KeyService
	docs      *DocumentService
	sealing   *SealingService
	parties   *ExternalPartyService
	sentTANs  map[string]string
	sender    InternalUser
	carrier   InternalUser
	successor InternalUser
	consignee InternalUser
	outsider  InternalUser
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithKeys(t, nil)
}

// newFixtureWithKeys lets two deployments share one key service so test
// keys are generated once.
func newFixtureWithKeys(t *testing.T, keys *KeyService) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		repo:     repository.NewMemoryRepository(),
		metrics:  metrics.NewMetricsCollector(),
		sentTANs: make(map[string]string),
	}
	f.notifier = lifecycle.NewNotifier(logger)
	f.notifier.Register("record", func(ctx context.Context, c lifecycle.StatusChange) error {
		f.changes = append(f.changes, c)
		return nil
	})
	f.resolver = NewRoleResolver(f.repo, logger)
	if keys == nil {
		keys = NewKeyService(f.repo, logger, f.metrics, testKeyBits)
	}
	f.keys = keys
	f.docs = NewDocumentService(f.repo, f.resolver, NewMutationGuard(), f.notifier, logger, f.metrics)
	f.sealing = NewSealingService(f.repo, f.resolver, f.keys, f.notifier, logger, f.metrics)
	f.parties = NewExternalPartyService(f.repo, func(ctx context.Context, p *models.ExternalParty, tan string) error {
		f.sentTANs[p.ID] = tan
		return nil
	}, logger, f.metrics, 6, time.Hour)

	f.sender = f.user("anna", "sender-co")
	f.carrier = f.user("bela", "carrier-co")
	f.successor = f.user("csaba", "relay-co")
	f.consignee = f.user("dora", "consignee-co")
	f.outsider = f.user("erik", "other-co")
	return f
}

func (f *fixture) user(username, groupID string) InternalUser {
	f.t.Helper()
	require.NoError(f.t, f.repo.SaveGroup(f.ctx, &models.Group{ID: groupID, Name: groupID}))
	u := &models.User{Username: username, Email: username + "@example.com", PasswordHash: "x", ActiveStatus: true}
	require.NoError(f.t, f.repo.SaveUser(f.ctx, u))
	require.NoError(f.t, f.repo.AddGroupMember(f.ctx, groupID, u.ID))
	principal, err := f.resolver.ResolveInternal(f.ctx, u.ID)
	require.NoError(f.t, err)
	return principal
}

func party(name, city string) models.Party {
	return models.Party{Name: name, Street: "Main 1", PostCode: "1000", City: city, CountryCode: "HU"}
}

func completeSections() models.Sections {
	taken := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return models.Sections{
		Reference:       "CMR-2026-0001",
		Sender:          party("Acme Kft", "Budapest"),
		Carrier:         party("Fast Trucks", "Gyor"),
		Consignee:       party("Receiver GmbH", "Wien"),
		TakingOver:      models.TakingOver{Location: "Budapest", CountryCode: "HU", Date: &taken},
		PlaceOfDelivery: models.Place{Location: "Wien", CountryCode: "AT"},
		Items: []models.Item{
			{MarksAndNumbers: "A-1", NumberOfPackages: 12, MethodOfPacking: "pallet", NatureOfGoods: "machine parts", GrossWeightKg: 840.5},
		},
		Charges: models.Charges{Currency: "EUR", Carriage: 1200},
	}
}

// draft creates a complete draft owned by the sender with every party group
// assigned its role.
func (f *fixture) draft() *models.Document {
	f.t.Helper()
	doc, err := f.docs.Create(f.ctx, f.sender, CreateDocumentRequest{Sections: completeSections()})
	require.NoError(f.t, err)
	f.assign(doc.ID, "carrier-co", models.RoleCarrier)
	f.assign(doc.ID, "relay-co", models.RoleSuccessiveCarrier)
	f.assign(doc.ID, "consignee-co", models.RoleConsignee)
	return doc
}

func (f *fixture) assign(documentID, groupID string, role models.Role) {
	f.t.Helper()
	_, err := f.docs.AddAssignment(f.ctx, f.sender, documentID, AssignmentRequest{
		PrincipalType: models.PrincipalGroup,
		PrincipalID:   groupID,
		Role:          role,
	})
	require.NoError(f.t, err)
}

func (f *fixture) seal(p Principal, documentID string, role models.Role, preceding string) (*models.Seal, error) {
	return f.sealing.CreateSeal(f.ctx, p, SealRequest{DocumentID: documentID, Role: role, PrecedingSeal: preceding})
}

func (f *fixture) mustSeal(p Principal, documentID string, role models.Role, preceding string) *models.Seal {
	f.t.Helper()
	s, err := f.seal(p, documentID, role, preceding)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) receiveGoods(documentID string) {
	f.t.Helper()
	view, err := f.docs.Get(f.ctx, f.consignee, documentID)
	require.NoError(f.t, err)
	received := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	sections := view.Document.Sections
	sections.GoodsReceived = models.GoodsReceived{Place: "Wien", ReceivedAt: &received, ReceiverName: "J. Huber"}
	_, err = f.docs.Update(f.ctx, f.consignee, documentID, sections)
	require.NoError(f.t, err)
}

func (f *fixture) status(documentID string) models.DocumentStatus {
	f.t.Helper()
	doc, err := f.repo.GetDocument(f.ctx, documentID)
	require.NoError(f.t, err)
	return doc.Status
}
