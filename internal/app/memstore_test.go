package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"folio/api/internal/store"
	"github.com/google/uuid"
)

// memStore is a transactional in-memory store.Store. WithTx works on a copy
// of the data and swaps it in on success.
type memStore struct {
	mu       *sync.Mutex
	data     *memData
	inTx     bool
	failures map[string]error
	pingErr  error
}

type memData struct {
	nextID    int64
	clock     time.Time
	documents map[int64]store.Document
	grants    map[int64]map[int64]store.SharedAccess
	contents  map[int64]string
	branches  map[int64]store.Branch
	versions  map[int64]store.Version
}

func newMemStore() *memStore {
	return &memStore{
		mu: &sync.Mutex{},
		data: &memData{
			clock:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			documents: map[int64]store.Document{},
			grants:    map[int64]map[int64]store.SharedAccess{},
			contents:  map[int64]string{},
			branches:  map[int64]store.Branch{},
			versions:  map[int64]store.Version{},
		},
		failures: map[string]error{},
	}
}

func (d *memData) clone() *memData {
	out := &memData{
		nextID:    d.nextID,
		clock:     d.clock,
		documents: make(map[int64]store.Document, len(d.documents)),
		grants:    make(map[int64]map[int64]store.SharedAccess, len(d.grants)),
		contents:  make(map[int64]string, len(d.contents)),
		branches:  make(map[int64]store.Branch, len(d.branches)),
		versions:  make(map[int64]store.Version, len(d.versions)),
	}
	for k, v := range d.documents {
		out.documents[k] = v
	}
	for k, inner := range d.grants {
		cp := make(map[int64]store.SharedAccess, len(inner))
		for u, g := range inner {
			cp[u] = g
		}
		out.grants[k] = cp
	}
	for k, v := range d.contents {
		out.contents[k] = v
	}
	for k, v := range d.branches {
		out.branches[k] = v
	}
	for k, v := range d.versions {
		out.versions[k] = v
	}
	return out
}

func (d *memData) id() int64 {
	d.nextID++
	return d.nextID
}

func (d *memData) now() time.Time {
	d.clock = d.clock.Add(time.Millisecond)
	return d.clock
}

func (m *memStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) fail(op string) error {
	return m.failures[op]
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memStore{mu: m.mu, data: m.data.clone(), inTx: true, failures: m.failures}
	if err := fn(tx); err != nil {
		return err
	}
	*m.data = *tx.data
	return nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) CreateDocument(_ context.Context, doc *store.Document) error {
	defer m.lock()()
	if err := m.fail("CreateDocument"); err != nil {
		return err
	}
	doc.ID = m.data.id()
	doc.PublicID = uuid.NewString()
	doc.CreatedAt = m.data.now()
	doc.UpdatedAt = doc.CreatedAt
	stored := *doc
	stored.SharedAccess = nil
	m.data.documents[doc.ID] = stored
	return nil
}

func (m *memStore) document(doc store.Document) store.Document {
	grants := make([]store.SharedAccess, 0, len(m.data.grants[doc.ID]))
	for _, g := range m.data.grants[doc.ID] {
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ID < grants[j].ID })
	doc.SharedAccess = grants
	if doc.MainBranchID != nil {
		doc.MainBranchPublicID = m.data.branches[*doc.MainBranchID].PublicID
	}
	return doc
}

func (m *memStore) GetDocument(_ context.Context, publicID string) (store.Document, error) {
	defer m.lock()()
	for _, doc := range m.data.documents {
		if doc.PublicID == publicID {
			return m.document(doc), nil
		}
	}
	return store.Document{}, store.ErrNotFound
}

func (m *memStore) ListDocuments(_ context.Context, userID int64) ([]store.Document, error) {
	defer m.lock()()
	out := make([]store.Document, 0)
	for _, doc := range m.data.documents {
		if doc.Trashed {
			continue
		}
		if _, shared := m.data.grants[doc.ID][userID]; doc.OwnerID != userID && !shared {
			continue
		}
		out = append(out, m.document(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) UpdateDocument(_ context.Context, doc store.Document) error {
	defer m.lock()()
	current, ok := m.data.documents[doc.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Title = doc.Title
	current.Status = doc.Status
	current.Trashed = doc.Trashed
	current.Favorite = doc.Favorite
	current.UpdatedAt = m.data.now()
	m.data.documents[doc.ID] = current
	return nil
}

func (m *memStore) SetMainBranch(_ context.Context, documentID, branchID int64) error {
	defer m.lock()()
	doc, ok := m.data.documents[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.MainBranchID = &branchID
	m.data.documents[documentID] = doc
	return nil
}

func (m *memStore) DeleteDocument(_ context.Context, documentID int64) error {
	defer m.lock()()
	if _, ok := m.data.documents[documentID]; !ok {
		return store.ErrNotFound
	}
	for id, v := range m.data.versions {
		if v.DocumentID == documentID {
			delete(m.data.contents, v.ContentID)
			delete(m.data.versions, id)
		}
	}
	for id, b := range m.data.branches {
		if b.DocumentID == documentID {
			delete(m.data.contents, b.ContentID)
			delete(m.data.branches, id)
		}
	}
	delete(m.data.grants, documentID)
	delete(m.data.documents, documentID)
	return nil
}

func (m *memStore) UpsertSharedAccess(_ context.Context, grant *store.SharedAccess) error {
	defer m.lock()()
	inner := m.data.grants[grant.DocumentID]
	if inner == nil {
		inner = map[int64]store.SharedAccess{}
		m.data.grants[grant.DocumentID] = inner
	}
	if existing, ok := inner[grant.UserID]; ok {
		existing.Permission = grant.Permission
		inner[grant.UserID] = existing
		*grant = existing
		return nil
	}
	grant.ID = m.data.id()
	grant.CreatedAt = m.data.now()
	inner[grant.UserID] = *grant
	return nil
}

func (m *memStore) DeleteSharedAccess(_ context.Context, documentID, userID int64) error {
	defer m.lock()()
	if _, ok := m.data.grants[documentID][userID]; !ok {
		return store.ErrNotFound
	}
	delete(m.data.grants[documentID], userID)
	return nil
}

func (m *memStore) GetContent(_ context.Context, contentID int64) (string, error) {
	defer m.lock()()
	body, ok := m.data.contents[contentID]
	if !ok {
		return "", store.ErrNotFound
	}
	return body, nil
}

func (m *memStore) CreateBranch(_ context.Context, branch *store.Branch, content string) error {
	defer m.lock()()
	for _, b := range m.data.branches {
		if b.DocumentID == branch.DocumentID && b.Name == branch.Name {
			return store.ErrConflict
		}
	}
	branch.ContentID = m.data.id()
	m.data.contents[branch.ContentID] = content
	branch.ID = m.data.id()
	branch.PublicID = uuid.NewString()
	branch.CreatedAt = m.data.now()
	branch.UpdatedAt = branch.CreatedAt
	m.data.branches[branch.ID] = *branch
	return nil
}

func (m *memStore) GetBranch(_ context.Context, documentID int64, publicID string) (store.Branch, error) {
	defer m.lock()()
	for _, b := range m.data.branches {
		if b.DocumentID == documentID && b.PublicID == publicID {
			return b, nil
		}
	}
	return store.Branch{}, store.ErrNotFound
}

func (m *memStore) GetBranchByID(_ context.Context, documentID, branchID int64) (store.Branch, error) {
	defer m.lock()()
	b, ok := m.data.branches[branchID]
	if !ok || b.DocumentID != documentID {
		return store.Branch{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memStore) GetBranchByName(_ context.Context, documentID int64, name string) (store.Branch, error) {
	defer m.lock()()
	for _, b := range m.data.branches {
		if b.DocumentID == documentID && b.Name == name {
			return b, nil
		}
	}
	return store.Branch{}, store.ErrNotFound
}

func (m *memStore) ListBranches(_ context.Context, documentID int64, includeTrashed bool) ([]store.Branch, error) {
	defer m.lock()()
	out := make([]store.Branch, 0)
	for _, b := range m.data.branches {
		if b.DocumentID != documentID || (b.Trashed && !includeTrashed) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateBranch(_ context.Context, branch store.Branch) error {
	defer m.lock()()
	current, ok := m.data.branches[branch.ID]
	if !ok {
		return store.ErrNotFound
	}
	for _, b := range m.data.branches {
		if b.ID != branch.ID && b.DocumentID == branch.DocumentID && b.Name == branch.Name {
			return store.ErrConflict
		}
	}
	current.Name = branch.Name
	current.Status = branch.Status
	current.Trashed = branch.Trashed
	current.UpdatedAt = m.data.now()
	m.data.branches[branch.ID] = current
	return nil
}

func (m *memStore) ReplaceBranchContent(_ context.Context, branchID int64, content string) (int64, error) {
	defer m.lock()()
	if err := m.fail("ReplaceBranchContent"); err != nil {
		return 0, err
	}
	b, ok := m.data.branches[branchID]
	if !ok {
		return 0, store.ErrNotFound
	}
	m.data.contents[b.ContentID] = content
	b.Revision++
	b.UpdatedAt = m.data.now()
	m.data.branches[branchID] = b
	return b.Revision, nil
}

func (m *memStore) DeleteBranch(_ context.Context, branchID int64) error {
	defer m.lock()()
	b, ok := m.data.branches[branchID]
	if !ok {
		return store.ErrNotFound
	}
	for id, v := range m.data.versions {
		if v.BranchID == branchID {
			delete(m.data.contents, v.ContentID)
			delete(m.data.versions, id)
		}
	}
	delete(m.data.contents, b.ContentID)
	delete(m.data.branches, branchID)
	return nil
}

func (m *memStore) CreateVersion(_ context.Context, version *store.Version, content string) error {
	defer m.lock()()
	if err := m.fail("CreateVersion"); err != nil {
		return err
	}
	version.ContentID = m.data.id()
	m.data.contents[version.ContentID] = content
	version.ID = m.data.id()
	version.PublicID = uuid.NewString()
	version.CreatedAt = m.data.now()
	version.BranchPublicID = m.data.branches[version.BranchID].PublicID
	m.data.versions[version.ID] = *version
	return nil
}

func (m *memStore) GetVersion(_ context.Context, documentID int64, publicID string) (store.Version, error) {
	defer m.lock()()
	for _, v := range m.data.versions {
		if v.DocumentID == documentID && v.PublicID == publicID {
			return v, nil
		}
	}
	return store.Version{}, store.ErrNotFound
}

// branchVersions returns the branch's versions newest first.
func (m *memStore) branchVersions(branchID int64) []store.Version {
	out := make([]store.Version, 0)
	for _, v := range m.data.versions {
		if v.BranchID == branchID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return versionAfter(out[i], out[j]) })
	return out
}

func versionAfter(a, b store.Version) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (m *memStore) ListVersions(_ context.Context, branchID int64, page store.PageQuery) (store.PageResult[store.Version], error) {
	defer m.lock()()
	if page.Offset < 0 {
		return store.PageResult[store.Version]{}, fmt.Errorf("offset %d must not be negative", page.Offset)
	}
	all := m.branchVersions(branchID)
	result := store.PageResult[store.Version]{Items: []store.Version{}, Total: len(all)}
	if page.Offset >= len(all) {
		return result, nil
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	result.Items = append(result.Items, all[page.Offset:end]...)
	return result, nil
}

func (m *memStore) DeleteVersionsAfter(_ context.Context, branchID int64, after store.Version) ([]string, error) {
	defer m.lock()()
	var removed []string
	for _, v := range m.branchVersions(branchID) {
		if !versionAfter(v, after) {
			continue
		}
		delete(m.data.contents, v.ContentID)
		delete(m.data.versions, v.ID)
		removed = append(removed, v.PublicID)
	}
	return removed, nil
}

func (m *memStore) versionCount() int {
	defer m.lock()()
	return len(m.data.versions)
}

func (m *memStore) contentCount() int {
	defer m.lock()()
	return len(m.data.contents)
}
