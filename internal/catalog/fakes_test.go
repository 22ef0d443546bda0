package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apk-registry/apk-registry/internal/db/models"
)

// memStore is an in-memory PackageStore that enforces the
// (package_key, version_code) uniqueness under a mutex, like the database does.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]*models.Package
	failWith  error
	conflicts bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*models.Package{}}
}

func rowKey(key string, code int64) string { return fmt.Sprintf("%s#%d", key, code) }

func (m *memStore) Reconcile(_ context.Context, pkg *models.Package, policy models.ConflictPolicy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}

	k := rowKey(pkg.PackageKey, pkg.VersionCode)
	existing, ok := m.rows[k]
	if !ok {
		pkg.ID = uuid.NewString()
		pkg.CreatedAt = time.Now()
		cp := *pkg
		m.rows[k] = &cp
		return true, nil
	}
	if policy == models.ConflictReplace {
		existing.SourcePath = pkg.SourcePath
		existing.SizeBytes = pkg.SizeBytes
		existing.CreatedAt = time.Now()
	}
	*pkg = *existing
	return false, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) List(_ context.Context) ([]*models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]*models.Package, 0, len(m.rows))
	for _, p := range m.rows {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) ListByKey(_ context.Context, key string) ([]*models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Package
	for _, p := range m.rows {
		if p.PackageKey == key {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// fakeArtifacts answers Exists from a fixed set of paths.
type fakeArtifacts struct {
	present map[string]bool
	err     error
}

func (f *fakeArtifacts) Exists(_ context.Context, location string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.present[location], nil
}
