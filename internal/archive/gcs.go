package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/gcp"
)

type GCS struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{client: client, bucket: bucket, now: time.Now}
}

func (g *GCS) prefix() string {
	return "https://storage.googleapis.com/" + g.bucket + "/"
}

func (g *GCS) Put(ctx context.Context, data []byte, name, mimeType string) (string, error) {
	key := ObjectKey(g.now().UTC(), name)
	if err := gcp.WriteWithRetry(ctx, g.client.Bucket(g.bucket), key, mimeType, data); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w: %v", name, common.ErrStorage, err)
	}
	return g.prefix() + escapeKey(key), nil
}

func (g *GCS) Delete(ctx context.Context, publicURL string) error {
	key, err := keyFromURL(publicURL, g.prefix())
	if err != nil {
		return err
	}
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete gs://%s/%s: %w: %v", g.bucket, key, common.ErrStorage, err)
	}
	return nil
}
