package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// Memory is a process-local Store used for tests and local runs. Documents
// are kept in their generic form so reads never share memory with callers.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs: map[string]map[string]any{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, rec *models.Record) (string, error) {
	prepareNew(rec, m.now())
	doc, err := toDoc(rec)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()

	m.mu.Lock()
	m.docs[id] = doc
	m.mu.Unlock()

	rec.ID = id
	return id, nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*models.Record, error) {
	m.mu.RLock()
	doc, ok := m.docs[id]
	var rec *models.Record
	var err error
	if ok {
		rec, err = fromDoc(id, doc)
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func (m *Memory) UpdateFields(_ context.Context, id string, updates []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	// Apply to a copy so a failed update leaves the stored document intact.
	copied, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("failed to copy record %s: %w", id, err)
	}
	next := copied.(map[string]any)
	if err := ApplyUpdates(next, withUpdatedAt(updates, m.now())); err != nil {
		return err
	}
	m.docs[id] = next
	return nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Record
	for id, doc := range m.docs {
		if doc["userId"] != userID {
			continue
		}
		rec, err := fromDoc(id, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}
