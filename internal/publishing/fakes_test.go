package publishing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/db/models"
)

// memPublications mimics the guarded UPDATE of the repository: a transition
// only applies while the row is still in `from`.
type memPublications struct {
	mu   sync.Mutex
	rows map[string]*models.Publication
	// failTransitionTo makes transitions into that status fail
	failTransitionTo models.PublicationStatus
	history          []models.PublicationStatus
}

func newMemPublications() *memPublications {
	return &memPublications{rows: map[string]*models.Publication{}}
}

func (m *memPublications) Create(_ context.Context, pub *models.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pub.ID = uuid.NewString()
	pub.Status = models.PublicationPending
	pub.RequestedAt = time.Now()
	cp := *pub
	m.rows[pub.ID] = &cp
	m.history = append(m.history, models.PublicationPending)
	return nil
}

func (m *memPublications) Transition(_ context.Context, id string, from, to models.PublicationStatus, target, msg *string) (*models.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !from.CanTransition(to) {
		return nil, errors.New("illegal transition")
	}
	if to == m.failTransitionTo {
		return nil, errors.New("db down")
	}
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return nil, nil
	}
	row.Status = to
	if target != nil {
		t := *target
		row.TargetPath = &t
	}
	row.ErrorMessage = msg
	if to.IsTerminal() {
		now := time.Now()
		if now.Before(row.RequestedAt) {
			now = row.RequestedAt
		}
		row.CompletedAt = &now
	} else {
		row.CompletedAt = nil
	}
	m.history = append(m.history, to)
	cp := *row
	return &cp, nil
}

func (m *memPublications) GetByID(_ context.Context, id string) (*models.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memPublications) List(_ context.Context, limit, offset int) ([]*models.PublicationWithPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PublicationWithPackage
	for _, row := range m.rows {
		out = append(out, &models.PublicationWithPackage{Publication: *row})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPublications) ListByPackage(_ context.Context, packageID string) ([]*models.PublicationWithPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PublicationWithPackage
	for _, row := range m.rows {
		if row.PackageID == packageID {
			out = append(out, &models.PublicationWithPackage{Publication: *row})
		}
	}
	return out, nil
}

func (m *memPublications) ListByStatus(_ context.Context, status models.PublicationStatus) ([]*models.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Publication
	for _, row := range m.rows {
		if row.Status == status {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

// setRequestedAt backdates a record.
func (m *memPublications) setRequestedAt(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].RequestedAt = at
}

// setStatus forces a status without going through Transition.
func (m *memPublications) setStatus(id string, status models.PublicationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = status
}

type memPackages struct {
	rows map[string]*models.Package
}

func (m *memPackages) Get(_ context.Context, id string) (*models.Package, error) {
	if p, ok := m.rows[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, apperrors.NotFound("package", id)
}

type staticSettings struct {
	values map[string]string
	err    error
}

func (s *staticSettings) GetSetting(_ context.Context, key, fallback string) (string, error) {
	if s.err != nil {
		return fallback, s.err
	}
	if v, ok := s.values[key]; ok && v != "" {
		return v, nil
	}
	return fallback, nil
}
