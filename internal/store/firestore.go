package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

// Firestore keeps one document per Record in a single collection. Dotted
// update paths are native Firestore field paths.
type Firestore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	return &Firestore{
		client:     client,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (f *Firestore) col() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

func (f *Firestore) Create(ctx context.Context, rec *models.Record) (string, error) {
	prepareNew(rec, f.now())
	docRef, _, err := f.col().Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create record document: %w: %v", common.ErrStorage, err)
	}
	rec.ID = docRef.ID
	return docRef.ID, nil
}

func (f *Firestore) FindByID(ctx context.Context, id string) (*models.Record, error) {
	snap, err := f.col().Doc(id).Get(ctx)
	if err != nil {
		return nil, f.wrap(id, "get", err)
	}
	rec := &models.Record{}
	if err := snap.DataTo(rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	rec.ID = snap.Ref.ID
	return rec, nil
}

func (f *Firestore) UpdateFields(ctx context.Context, id string, updates []Update) error {
	fsUpdates := make([]firestore.Update, 0, len(updates)+1)
	for _, u := range withUpdatedAt(updates, f.now()) {
		fsUpdates = append(fsUpdates, firestore.Update{Path: u.Path, Value: u.Value})
	}
	if _, err := f.col().Doc(id).Update(ctx, fsUpdates); err != nil {
		return f.wrap(id, "update", err)
	}
	return nil
}

func (f *Firestore) ListByUser(ctx context.Context, userID string) ([]*models.Record, error) {
	iter := f.col().Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var out []*models.Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w: %v", common.ErrStorage, err)
		}
		rec := &models.Record{}
		if err := snap.DataTo(rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", snap.Ref.ID, err)
		}
		rec.ID = snap.Ref.ID
		out = append(out, rec)
	}
	return out, nil
}

func (f *Firestore) Delete(ctx context.Context, id string) error {
	if _, err := f.col().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return f.wrap(id, "delete", err)
	}
	return nil
}

func (f *Firestore) wrap(id, op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("failed to %s record %s: %w: %v", op, id, common.ErrStorage, err)
}
