package services

import (
	"testing"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestArchiveSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	delivered := deliveredDocument(t, f)
	inTransit := inTransportDocument(t, f)

	scheduler := NewArchiveScheduler(f.repo, f.docs, zap.NewNop(), f.metrics, time.Hour)
	archived, err := scheduler.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, archived, "nothing is old enough yet")

	scheduler.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	archived, err = scheduler.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	doc, err := f.repo.GetDocument(f.ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindArchived, doc.Kind)
	assert.Equal(t, models.StatusArrivedAtDestination, doc.Status)
	assert.NotNil(t, doc.ArrivedAt)

	untouched, err := f.repo.GetDocument(f.ctx, inTransit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindDraft, untouched.Kind)

	archived, err = scheduler.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	again, err := f.repo.GetDocument(f.ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Version, again.Version)
}

func TestArchivedDocumentsAreFrozen(t *testing.T) {
	f := newFixture(t)
	delivered := deliveredDocument(t, f)
	scheduler := NewArchiveScheduler(f.repo, f.docs, zap.NewNop(), f.metrics, 0)
	scheduler.now = func() time.Time { return time.Now().Add(time.Minute) }
	_, err := scheduler.Sweep(f.ctx)
	require.NoError(t, err)

	sections := delivered.Sections
	sections.GoodsReceived.Remarks = "after the fact"
	_, err = f.docs.Update(f.ctx, f.consignee, delivered.ID, sections)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	chain, err := f.sealing.ListChain(f.ctx, f.sender, delivered.ID)
	require.NoError(t, err)
	_, err = f.seal(f.successor, delivered.ID, models.RoleSuccessiveCarrier, chain[len(chain)-1].Signature)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestArchiveSchedulerStops(t *testing.T) {
	f := newFixture(t)
	scheduler := NewArchiveScheduler(f.repo, f.docs, zap.NewNop(), f.metrics, time.Hour)
	scheduler.Start(f.ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()
	assert.Positive(t, f.metrics.Counter("archive_sweeps", nil))
}
