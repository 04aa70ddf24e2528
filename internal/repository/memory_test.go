package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(id string) *models.Document {
	return &models.Document{ID: id, Kind: models.KindDraft, Status: models.StatusNew, Version: 1}
}

func TestUpdateDocumentRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateDocument(ctx, newDoc("d1"), nil))

	first, _ := repo.GetDocument(ctx, "d1")
	second, _ := repo.GetDocument(ctx, "d1")

	first.Sections.Reference = "REF-1"
	require.NoError(t, repo.UpdateDocument(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.Sections.Reference = "REF-2"
	err := repo.UpdateDocument(ctx, second, 1)
	assert.ErrorIs(t, err, ErrStaleVersion)

	stored, _ := repo.GetDocument(ctx, "d1")
	assert.Equal(t, "REF-1", stored.Sections.Reference)
}

func TestAppendSealIsUniquePerRole(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateDocument(ctx, newDoc("d1"), nil))

	doc, _ := repo.GetDocument(ctx, "d1")
	doc.Status = models.StatusLoading
	require.NoError(t, repo.AppendSeal(ctx, &models.Seal{ID: "s1", DocumentID: "d1", Role: models.RoleSender}, doc, 1))

	again, _ := repo.GetDocument(ctx, "d1")
	err := repo.AppendSeal(ctx, &models.Seal{ID: "s2", DocumentID: "d1", Role: models.RoleSender}, again, again.Version)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	seals, _ := repo.ListSeals(ctx, "d1")
	assert.Len(t, seals, 1)
	stored, _ := repo.GetDocument(ctx, "d1")
	assert.Equal(t, models.StatusLoading, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestDeleteDocumentRequiresCurrentVersionAndNoSeals(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateDocument(ctx, newDoc("d1"), nil))

	doc, _ := repo.GetDocument(ctx, "d1")
	doc.Status = models.StatusLoading
	require.NoError(t, repo.AppendSeal(ctx, &models.Seal{ID: "s1", DocumentID: "d1", Role: models.RoleSender}, doc, 1))

	// a delete decided on the pre-seal read loses
	assert.ErrorIs(t, repo.DeleteDocument(ctx, "d1", 1), ErrStaleVersion)
	assert.ErrorIs(t, repo.DeleteDocument(ctx, "d1", 2), apperr.ErrForbidden)
	_, err := repo.GetDocument(ctx, "d1")
	require.NoError(t, err)

	require.NoError(t, repo.CreateDocument(ctx, newDoc("d2"), nil))
	require.NoError(t, repo.DeleteDocument(ctx, "d2", 1))
	assert.ErrorIs(t, repo.DeleteDocument(ctx, "d2", 1), apperr.ErrNotFound)
}

func TestImportDocumentConflictsOnExistingID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateDocument(ctx, newDoc("d1"), nil))

	err := repo.ImportDocument(ctx, newDoc("d1"), []models.Seal{{ID: "s1", Role: models.RoleSender}}, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	seals, _ := repo.ListSeals(ctx, "d1")
	assert.Empty(t, seals)
}

func TestGetDocumentReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doc := newDoc("d1")
	doc.Sections.Items = []models.Item{{NatureOfGoods: "pallets"}}
	require.NoError(t, repo.CreateDocument(ctx, doc, nil))

	got, _ := repo.GetDocument(ctx, "d1")
	got.Sections.Items[0].NatureOfGoods = "changed"

	again, _ := repo.GetDocument(ctx, "d1")
	assert.Equal(t, "pallets", again.Sections.Items[0].NatureOfGoods)
}

func TestListArchivableFiltersByStatusAndAge(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for id, status := range map[string]models.DocumentStatus{
		"new":       models.StatusNew,
		"delivered": models.StatusDelivered,
		"arrived":   models.StatusArrivedAtDestination,
	} {
		d := newDoc(id)
		d.Status = status
		require.NoError(t, repo.CreateDocument(ctx, d, nil))
	}

	docs, err := repo.ListArchivable(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	ids := []string{}
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"delivered", "arrived"}, ids)

	docs, _ = repo.ListArchivable(ctx, time.Now().Add(-time.Hour))
	assert.Empty(t, docs)
}

func TestShareTokenSlotReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.UpsertShareToken(ctx, &models.ShareToken{DocumentID: "d1", Role: models.RoleReader, TokenHash: "old"}))
	require.NoError(t, repo.UpsertShareToken(ctx, &models.ShareToken{DocumentID: "d1", Role: models.RoleReader, TokenHash: "new"}))

	_, err := repo.GetShareTokenByHash(ctx, "old")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	tok, err := repo.GetShareTokenByHash(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, models.RoleReader, tok.Role)
}
