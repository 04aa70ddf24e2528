package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
)

type sealKey struct {
	documentID string
	role       models.Role
}

type slotKey = sealKey

// MemoryRepository keeps everything in process. It enforces the same
// uniqueness and version rules as the SQL schema and hands out copies only.
type MemoryRepository struct {
	mu sync.RWMutex

	documents   map[string]*models.Document
	seals       map[sealKey]models.Seal
	assignments []models.Assignment
	nextAssign  uint

	users      map[uint]*models.User
	nextUserID uint
	groups     map[string]models.Group
	members    map[uint]map[string]struct{}

	parties     map[string]*models.ExternalParty
	shareTokens map[slotKey]models.ShareToken
	keyShares   map[string]models.KeyShare
	nextKeyID   uint

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		documents:   make(map[string]*models.Document),
		seals:       make(map[sealKey]models.Seal),
		users:       make(map[uint]*models.User),
		groups:      make(map[string]models.Group),
		members:     make(map[uint]map[string]struct{}),
		parties:     make(map[string]*models.ExternalParty),
		shareTokens: make(map[slotKey]models.ShareToken),
		keyShares:   make(map[string]models.KeyShare),
		now:         time.Now,
	}
}

func (m *MemoryRepository) CreateDocument(ctx context.Context, doc *models.Document, assignments []models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return apperr.Conflict("document %s already exists", doc.ID)
	}
	now := m.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.documents[doc.ID] = doc.Clone()
	m.appendAssignments(assignments)
	return nil
}

func (m *MemoryRepository) appendAssignments(assignments []models.Assignment) {
	for i := range assignments {
		m.nextAssign++
		assignments[i].ID = m.nextAssign
		if assignments[i].CreatedAt.IsZero() {
			assignments[i].CreatedAt = m.now()
		}
		m.assignments = append(m.assignments, assignments[i])
	}
}

func (m *MemoryRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, apperr.NotFound("document %s", id)
	}
	return doc.Clone(), nil
}

func (m *MemoryRepository) updateLocked(doc *models.Document, expectedVersion int64) error {
	stored, ok := m.documents[doc.ID]
	if !ok {
		return apperr.NotFound("document %s", doc.ID)
	}
	if stored.Version != expectedVersion {
		return ErrStaleVersion
	}
	doc.Version = expectedVersion + 1
	doc.UpdatedAt = m.now()
	doc.CreatedAt = stored.CreatedAt
	doc.CreatedBy = stored.CreatedBy
	doc.ImportedFrom = stored.ImportedFrom
	m.documents[doc.ID] = doc.Clone()
	return nil
}

func (m *MemoryRepository) UpdateDocument(ctx context.Context, doc *models.Document, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(doc, expectedVersion)
}

func (m *MemoryRepository) DeleteDocument(ctx context.Context, id string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.documents[id]
	if !ok {
		return apperr.NotFound("document %s", id)
	}
	if stored.Version != expectedVersion {
		return ErrStaleVersion
	}
	for k := range m.seals {
		if k.documentID == id {
			return apperr.Forbidden("document %s is sealed and cannot be deleted", id)
		}
	}
	delete(m.documents, id)
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.DocumentID != id {
			kept = append(kept, a)
		}
	}
	m.assignments = kept
	for k := range m.shareTokens {
		if k.documentID == id {
			delete(m.shareTokens, k)
		}
	}
	return nil
}

func (m *MemoryRepository) ListArchivable(ctx context.Context, olderThan time.Time) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, d := range m.documents {
		if d.Kind != models.KindDraft {
			continue
		}
		if d.Status != models.StatusDelivered && d.Status != models.StatusArrivedAtDestination {
			continue
		}
		if d.UpdatedAt.Before(olderThan) {
			out = append(out, *d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryRepository) ListSeals(ctx context.Context, documentID string) ([]models.Seal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Seal
	for k, s := range m.seals {
		if k.documentID == documentID {
			out = append(out, s)
		}
	}
	// Map order is random; sort only for deterministic output, chain order
	// is always rebuilt from the references.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) AppendSeal(ctx context.Context, seal *models.Seal, doc *models.Document, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sealKey{seal.DocumentID, seal.Role}
	if _, exists := m.seals[key]; exists {
		return apperr.Conflict("role %s already sealed document %s", seal.Role, seal.DocumentID)
	}
	if err := m.updateLocked(doc, expectedVersion); err != nil {
		return err
	}
	seal.CreatedAt = m.now()
	m.seals[key] = *seal
	return nil
}

func (m *MemoryRepository) ImportDocument(ctx context.Context, doc *models.Document, seals []models.Seal, assignments []models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return apperr.Conflict("document %s already exists", doc.ID)
	}
	seen := make(map[sealKey]struct{}, len(seals))
	for _, s := range seals {
		key := sealKey{doc.ID, s.Role}
		if _, dup := seen[key]; dup {
			return apperr.Conflict("seal of document %s already exists", doc.ID)
		}
		seen[key] = struct{}{}
	}
	now := m.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	m.documents[doc.ID] = doc.Clone()
	for _, s := range seals {
		s.DocumentID = doc.ID
		s.CreatedAt = now
		m.seals[sealKey{doc.ID, s.Role}] = s
	}
	m.appendAssignments(assignments)
	return nil
}

func (m *MemoryRepository) ListAssignments(ctx context.Context, documentID string) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryRepository) AddAssignment(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[a.DocumentID]; !ok {
		return apperr.NotFound("document %s", a.DocumentID)
	}
	batch := []models.Assignment{*a}
	m.appendAssignments(batch)
	*a = batch[0]
	return nil
}

func (m *MemoryRepository) GetUser(ctx context.Context, id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user %s", username)
}

func (m *MemoryRepository) SaveUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		for _, existing := range m.users {
			if existing.Username == u.Username {
				return apperr.Conflict("user %s already exists", u.Username)
			}
		}
		m.nextUserID++
		u.ID = m.nextUserID
		u.CreatedAt = m.now()
	}
	u.UpdatedAt = m.now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryRepository) SaveGroup(ctx context.Context, g *models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = m.now()
	}
	m.groups[g.ID] = *g
	return nil
}

func (m *MemoryRepository) AddGroupMember(ctx context.Context, groupID string, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return apperr.NotFound("group %s", groupID)
	}
	if m.members[userID] == nil {
		m.members[userID] = make(map[string]struct{})
	}
	m.members[userID][groupID] = struct{}{}
	return nil
}

func (m *MemoryRepository) GroupIDsForUser(ctx context.Context, userID uint) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.members[userID]))
	for g := range m.members[userID] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRepository) GroupExists(ctx context.Context, groupID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.groups[groupID]
	return ok, nil
}

func (m *MemoryRepository) SaveExternalParty(ctx context.Context, p *models.ExternalParty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.parties {
		if id != p.ID && existing.UserToken == p.UserToken {
			return apperr.Conflict("user token already in use")
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	p.UpdatedAt = m.now()
	cp := *p
	m.parties[p.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetExternalParty(ctx context.Context, id string) (*models.ExternalParty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parties[id]
	if !ok {
		return nil, apperr.NotFound("external party %s", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetExternalPartyByToken(ctx context.Context, userToken string) (*models.ExternalParty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.parties {
		if p.UserToken == userToken {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("external party")
}

func (m *MemoryRepository) UpsertShareToken(ctx context.Context, t *models.ShareToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shareTokens[slotKey{t.DocumentID, t.Role}] = *t
	return nil
}

func (m *MemoryRepository) GetShareTokenByHash(ctx context.Context, tokenHash string) (*models.ShareToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.shareTokens {
		if t.TokenHash == tokenHash {
			cp := t
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("share token")
}

func (m *MemoryRepository) GetKeyShare(ctx context.Context, owner string) (*models.KeyShare, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keyShares[owner]
	if !ok || k.Status != "ACTIVE" {
		return nil, apperr.NotFound("key share %s", owner)
	}
	return &k, nil
}

func (m *MemoryRepository) SaveKeyShare(ctx context.Context, k *models.KeyShare) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keyShares[k.Owner]; exists {
		return apperr.Conflict("key share for %s already exists", k.Owner)
	}
	m.nextKeyID++
	k.ID = m.nextKeyID
	k.Created = m.now()
	m.keyShares[k.Owner] = *k
	return nil
}
