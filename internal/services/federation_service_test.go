package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (f *fixture) federation(fetcher BundleFetcher) *FederationService {
	return NewFederationService(f.repo, f.resolver, fetcher, f.notifier, zap.NewNop(), f.metrics)
}

// exportServer serves the export endpoint of fs; tamper may rewrite the
// bundle on its way out.
func exportServer(t *testing.T, fs *FederationService, tamper func(b *Bundle)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/external/document/"), "/export")
		bundle, err := fs.Export(r.Context(), id, r.URL.Query().Get("shareToken"))
		if err != nil {
			w.WriteHeader(apperr.HTTPStatus(err))
			return
		}
		if tamper != nil {
			tamper(bundle)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(bundle)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fetcherFunc func(ctx context.Context, sourceURL, documentID, shareToken string) (*Bundle, error)

func (fn fetcherFunc) FetchBundle(ctx context.Context, sourceURL, documentID, shareToken string) (*Bundle, error) {
	return fn(ctx, sourceURL, documentID, shareToken)
}

func inTransportDocument(t *testing.T, f *fixture) *models.Document {
	t.Helper()
	doc := f.draft()
	s := f.mustSeal(f.sender, doc.ID, models.RoleSender, "")
	f.mustSeal(f.carrier, doc.ID, models.RoleCarrier, s.Signature)
	stored, err := f.repo.GetDocument(f.ctx, doc.ID)
	require.NoError(t, err)
	return stored
}

func TestFederationRoundTrip(t *testing.T) {
	source := newFixture(t)
	doc := inTransportDocument(t, source)
	exporter := source.federation(nil)
	token, err := exporter.IssueShareToken(source.ctx, source.sender, doc.ID, models.RoleConsignee)
	require.NoError(t, err)
	srv := exportServer(t, exporter, nil)

	dest := newFixtureWithKeys(t, source.keys)
	importer := dest.federation(NewHTTPBundleFetcher(5*time.Second, 1<<20))
	imported, err := importer.Import(dest.ctx, dest.consignee, ImportRequest{
		SourceURL:           srv.URL,
		ID:                  doc.ID,
		ShareToken:          token,
		DestinationGroupIDs: []string{"consignee-co"},
	})
	require.NoError(t, err)

	assert.Equal(t, doc.ID, imported.ID)
	assert.Equal(t, models.StatusInTransport, imported.Status)
	assert.Equal(t, srv.URL, imported.ImportedFrom)
	assert.Empty(t, ChangedGroups(&doc.Sections, &imported.Sections))

	assert.Equal(t, models.NewRoleSet(models.RoleConsignee), dest.resolver.Roles(dest.ctx, dest.consignee, doc.ID))
	report, err := dest.sealing.Verify(dest.ctx, dest.consignee, doc.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Reason)

	// The imported chain is extended locally.
	chain, err := dest.sealing.ListChain(dest.ctx, dest.consignee, doc.ID)
	require.NoError(t, err)
	dest.receiveGoods(doc.ID)
	dest.mustSeal(dest.consignee, doc.ID, models.RoleConsignee, chain[len(chain)-1].Signature)
	assert.Equal(t, models.StatusDelivered, dest.status(doc.ID))

	_, err = importer.Import(dest.ctx, dest.consignee, ImportRequest{
		SourceURL: srv.URL, ID: doc.ID, ShareToken: token, DestinationGroupIDs: []string{"consignee-co"},
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

// importVia exports doc from source through an HTTP peer, optionally
// rewriting the bundle, and imports it into a fresh deployment.
func importVia(t *testing.T, source *fixture, docID string, tamper func(b *Bundle)) (*fixture, *models.Document, error) {
	t.Helper()
	exporter := source.federation(nil)
	token, err := exporter.IssueShareToken(source.ctx, source.sender, docID, models.RoleReader)
	require.NoError(t, err)
	srv := exportServer(t, exporter, tamper)

	dest := newFixtureWithKeys(t, source.keys)
	imported, err := dest.federation(NewHTTPBundleFetcher(5*time.Second, 1<<20)).Import(dest.ctx, dest.carrier, ImportRequest{
		SourceURL: srv.URL, ID: docID, ShareToken: token, DestinationGroupIDs: []string{"carrier-co"},
	})
	return dest, imported, err
}

func TestImportKeepsArrival(t *testing.T) {
	source := newFixture(t)
	doc := deliveredDocument(t, source)
	arrived, err := source.docs.MarkArrived(source.ctx, source.consignee, doc.ID)
	require.NoError(t, err)

	dest, imported, err := importVia(t, source, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrivedAtDestination, imported.Status)
	assert.Equal(t, models.KindDraft, imported.Kind)
	require.NotNil(t, imported.ArrivedAt)
	assert.True(t, arrived.ArrivedAt.Equal(*imported.ArrivedAt))

	report, err := dest.sealing.Verify(dest.ctx, dest.carrier, doc.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Reason)
	assert.Equal(t, models.StatusArrivedAtDestination, report.DerivedStatus)
}

func TestImportKeepsArchivedKind(t *testing.T) {
	source := newFixture(t)
	doc := deliveredDocument(t, source)
	scheduler := NewArchiveScheduler(source.repo, source.docs, zap.NewNop(), source.metrics, 0)
	scheduler.now = func() time.Time { return time.Now().Add(time.Minute) }
	archived, err := scheduler.Sweep(source.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, archived)

	dest, imported, err := importVia(t, source, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindArchived, imported.Kind)
	assert.Equal(t, models.StatusArrivedAtDestination, imported.Status)

	sections := imported.Sections
	sections.GoodsReceived.Remarks = "after import"
	_, err = dest.docs.Update(dest.ctx, dest.carrier, doc.ID, sections)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestImportIgnoresArrivalWithoutConsigneeSeal(t *testing.T) {
	source := newFixture(t)
	doc := inTransportDocument(t, source)
	claimed := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	_, imported, err := importVia(t, source, doc.ID, func(b *Bundle) { b.ArrivedAt = &claimed })
	require.NoError(t, err)
	assert.Nil(t, imported.ArrivedAt)
	assert.Equal(t, models.StatusInTransport, imported.Status)

	_, _, err = importVia(t, source, doc.ID, func(b *Bundle) { b.Kind = models.KindArchived })
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestImportRejectsRewrittenObservationsAfterDelivery(t *testing.T) {
	source := newFixture(t)
	doc := deliveredWithRelayRemarks(t, source)

	_, imported, err := importVia(t, source, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "two pallets damaged", imported.Sections.SuccessiveCarrierObservations.Remarks)

	_, _, err = importVia(t, source, doc.ID, func(b *Bundle) {
		b.Sections.SuccessiveCarrierObservations.Remarks = "all fine"
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestImportRejectsAlteredSignature(t *testing.T) {
	source := newFixture(t)
	doc := inTransportDocument(t, source)
	exporter := source.federation(nil)
	token, err := exporter.IssueShareToken(source.ctx, source.sender, doc.ID, models.RoleReader)
	require.NoError(t, err)
	srv := exportServer(t, exporter, func(b *Bundle) {
		sig := []byte(b.SealChain[0].Signature)
		sig[5] ^= 0x01
		b.SealChain[0].Signature = string(sig)
	})

	dest := newFixtureWithKeys(t, source.keys)
	importer := dest.federation(NewHTTPBundleFetcher(5*time.Second, 1<<20))
	_, err = importer.Import(dest.ctx, dest.carrier, ImportRequest{
		SourceURL: srv.URL, ID: doc.ID, ShareToken: token, DestinationGroupIDs: []string{"carrier-co"},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = dest.repo.GetDocument(dest.ctx, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	seals, err := dest.repo.ListSeals(dest.ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, seals)
}

func TestImportRejectsTamperedContent(t *testing.T) {
	source := newFixture(t)
	doc := inTransportDocument(t, source)
	exporter := source.federation(nil)
	token, err := exporter.IssueShareToken(source.ctx, source.carrier, doc.ID, models.RoleReader)
	require.NoError(t, err)
	srv := exportServer(t, exporter, func(b *Bundle) {
		b.Sections.Items[0].GrossWeightKg = 1
		b.Status = models.StatusArrivedAtDestination
	})

	dest := newFixtureWithKeys(t, source.keys)
	_, err = dest.federation(NewHTTPBundleFetcher(5*time.Second, 1<<20)).Import(dest.ctx, dest.carrier, ImportRequest{
		SourceURL: srv.URL, ID: doc.ID, ShareToken: token, DestinationGroupIDs: []string{"carrier-co"},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestImportIgnoresRemoteStatus(t *testing.T) {
	source := newFixture(t)
	doc := inTransportDocument(t, source)
	exporter := source.federation(nil)
	token, err := exporter.IssueShareToken(source.ctx, source.sender, doc.ID, models.RoleReader)
	require.NoError(t, err)
	srv := exportServer(t, exporter, func(b *Bundle) { b.Status = models.StatusDelivered })

	dest := newFixtureWithKeys(t, source.keys)
	imported, err := dest.federation(NewHTTPBundleFetcher(5*time.Second, 1<<20)).Import(dest.ctx, dest.carrier, ImportRequest{
		SourceURL: srv.URL, ID: doc.ID, ShareToken: token, DestinationGroupIDs: []string{"carrier-co"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInTransport, imported.Status)
	assert.Equal(t, models.NewRoleSet(models.RoleReader), dest.resolver.Roles(dest.ctx, dest.carrier, doc.ID))
}

func TestExportTokenRules(t *testing.T) {
	f := newFixture(t)
	doc := inTransportDocument(t, f)
	other := f.draft()
	fs := f.federation(nil)

	first, err := fs.IssueShareToken(f.ctx, f.sender, doc.ID, models.RoleCarrier)
	require.NoError(t, err)
	bundle, err := fs.Export(f.ctx, doc.ID, first)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCarrier, bundle.Role)
	assert.Len(t, bundle.SealChain, 2, "export never filters seals")

	_, err = fs.Export(f.ctx, other.ID, first)
	assert.ErrorIs(t, err, apperr.ErrForbidden, "token is scoped to one document")

	second, err := fs.IssueShareToken(f.ctx, f.sender, doc.ID, models.RoleCarrier)
	require.NoError(t, err)
	_, err = fs.Export(f.ctx, doc.ID, first)
	assert.ErrorIs(t, err, apperr.ErrForbidden, "re-issue invalidates the old token")
	_, err = fs.Export(f.ctx, doc.ID, second)
	assert.NoError(t, err)

	reader, err := fs.IssueShareToken(f.ctx, f.sender, doc.ID, models.RoleReader)
	require.NoError(t, err)
	_, err = fs.Export(f.ctx, doc.ID, second)
	assert.NoError(t, err, "slots are independent")
	_, err = fs.Export(f.ctx, doc.ID, reader)
	assert.NoError(t, err)

	_, err = fs.Export(f.ctx, doc.ID, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestIssueShareTokenPermissions(t *testing.T) {
	f := newFixture(t)
	doc := f.draft()
	fs := f.federation(nil)

	_, err := fs.IssueShareToken(f.ctx, f.outsider, doc.ID, models.RoleReader)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	f.assign(doc.ID, "other-co", models.RoleReader)
	_, err = fs.IssueShareToken(f.ctx, f.outsider, doc.ID, models.RoleReader)
	assert.ErrorIs(t, err, apperr.ErrForbidden, "readers cannot share")

	_, err = fs.IssueShareToken(f.ctx, f.sender, doc.ID, "PILOT")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = fs.IssueShareToken(f.ctx, f.sender, "missing", models.RoleReader)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestImportValidation(t *testing.T) {
	f := newFixture(t)
	called := false
	fs := f.federation(fetcherFunc(func(ctx context.Context, sourceURL, documentID, shareToken string) (*Bundle, error) {
		called = true
		return nil, apperr.External(nil, "unreachable")
	}))
	valid := ImportRequest{SourceURL: "https://peer.example", ID: "d1", ShareToken: "t", DestinationGroupIDs: []string{"carrier-co"}}

	external := ExternalParty{PartyID: "p1", DocumentID: "d1", TANExpiresAt: time.Now().Add(time.Hour)}
	_, err := fs.Import(f.ctx, external, valid)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	notMember := valid
	notMember.DestinationGroupIDs = []string{"sender-co"}
	_, err = fs.Import(f.ctx, f.carrier, notMember)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	for name, mutate := range map[string]func(r *ImportRequest){
		"relative url": func(r *ImportRequest) { r.SourceURL = "/peer" },
		"ftp url":      func(r *ImportRequest) { r.SourceURL = "ftp://peer.example" },
		"no id":        func(r *ImportRequest) { r.ID = " " },
		"no token":     func(r *ImportRequest) { r.ShareToken = "" },
		"no groups":    func(r *ImportRequest) { r.DestinationGroupIDs = nil },
	} {
		req := valid
		mutate(&req)
		_, err := fs.Import(f.ctx, f.carrier, req)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, name)
	}
	assert.False(t, called, "nothing is fetched before the request validates")

	_, err = fs.Import(f.ctx, f.carrier, valid)
	assert.ErrorIs(t, err, apperr.ErrExternalDependency)
	assert.True(t, called)
}

func TestImportRejectsMismatchedBundle(t *testing.T) {
	f := newFixture(t)
	fs := f.federation(fetcherFunc(func(ctx context.Context, sourceURL, documentID, shareToken string) (*Bundle, error) {
		return &Bundle{ID: "someone-else", Role: models.RoleReader}, nil
	}))
	_, err := fs.Import(f.ctx, f.carrier, ImportRequest{
		SourceURL: "https://peer.example", ID: "d1", ShareToken: "t", DestinationGroupIDs: []string{"carrier-co"},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestHTTPBundleFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("shareToken") {
		case "forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "garbage":
			_, _ = w.Write([]byte("<html>"))
		default:
			_, _ = w.Write([]byte(`{"id":"` + strings.Repeat("x", 4096) + `"}`))
		}
	}))
	defer srv.Close()
	fetcher := NewHTTPBundleFetcher(time.Second, 1024)

	for _, token := range []string{"forbidden", "garbage", "huge"} {
		_, err := fetcher.FetchBundle(context.Background(), srv.URL, "d1", token)
		assert.ErrorIs(t, err, apperr.ErrExternalDependency, token)
	}

	_, err := fetcher.FetchBundle(context.Background(), "http://127.0.0.1:1", "d1", "t")
	assert.ErrorIs(t, err, apperr.ErrExternalDependency)
}

func TestExportURL(t *testing.T) {
	u, err := ExportURL("https://peer.example/api/", "doc 1", "a+b")
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example/api/external/document/doc%201/export?shareToken=a%2Bb", u)
}
