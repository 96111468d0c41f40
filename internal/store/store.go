// Package store persists Records. Every backend accepts partial updates keyed
// by dotted field paths using the Record's JSON/Firestore field names.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = common.ErrNotFound

// Update sets one field. Path is dotted, e.g. "verificationCall.status".
type Update struct {
	Path  string
	Value any
}

type Store interface {
	Create(ctx context.Context, rec *models.Record) (string, error)
	FindByID(ctx context.Context, id string) (*models.Record, error)
	// UpdateFields applies updates in order and stamps updatedAt.
	UpdateFields(ctx context.Context, id string, updates []Update) error
	// ListByUser returns the user's records, newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.Record, error)
	Delete(ctx context.Context, id string) error
}

// withUpdatedAt appends the updatedAt stamp unless the caller set one.
func withUpdatedAt(updates []Update, now time.Time) []Update {
	for _, u := range updates {
		if u.Path == "updatedAt" {
			return updates
		}
	}
	out := make([]Update, 0, len(updates)+1)
	out = append(out, updates...)
	return append(out, Update{Path: "updatedAt", Value: now})
}

// ApplyUpdates writes each update into doc, creating intermediate objects as
// needed. Values are normalised to their JSON form first so typed structs
// and plain maps end up identical.
func ApplyUpdates(doc map[string]any, updates []Update) error {
	for _, u := range updates {
		if u.Path == "" {
			return fmt.Errorf("empty update path: %w", common.ErrInvalidInput)
		}
		value, err := normalize(u.Value)
		if err != nil {
			return fmt.Errorf("failed to encode value for %s: %w", u.Path, err)
		}

		parts := strings.Split(u.Path, ".")
		node := doc
		for i, key := range parts[:len(parts)-1] {
			next, ok := node[key]
			if !ok || next == nil {
				child := map[string]any{}
				node[key] = child
				node = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				return fmt.Errorf("cannot set %s: %s is not an object: %w", u.Path, strings.Join(parts[:i+1], "."), common.ErrInvalidInput)
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return nil
}

func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// toDoc converts a Record into its generic document form.
func toDoc(rec *models.Record) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record document: %w", err)
	}
	delete(doc, "id")
	return doc, nil
}

func fromDoc(id string, doc map[string]any) (*models.Record, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record document: %w", err)
	}
	return decodeRecord(id, raw)
}

func decodeRecord(id string, raw []byte) (*models.Record, error) {
	rec := &models.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

func prepareNew(rec *models.Record, now time.Time) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.ProcessingStatus == "" {
		rec.ProcessingStatus = models.StatusUploaded
	}
	if rec.VerificationCall.Status == "" {
		rec.VerificationCall.Status = models.CallNotInitiated
	}
}
