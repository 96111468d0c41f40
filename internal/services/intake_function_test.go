package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

type fakeDownloader struct {
	data    []byte
	err     error
	objects []string
}

func (d *fakeDownloader) Download(_ context.Context, _, object, destPath string) (int64, error) {
	d.objects = append(d.objects, object)
	if d.err != nil {
		return 0, d.err
	}
	return int64(len(d.data)), os.WriteFile(destPath, d.data, 0o600)
}

func uploadEvent() ObjectEvent {
	return ObjectEvent{
		Bucket:      "mdf-uploads",
		Name:        "incoming/user-1/scan.png",
		ContentType: "image/png",
		Metadata: map[string]string{
			"title":        "Knee X-ray",
			"documentType": "x-ray",
			"patientName":  "Ann",
			"userId":       "user-1",
		},
	}
}

func TestIntakeRunsPipeline(t *testing.T) {
	f := newFixture()
	dl := &fakeDownloader{data: []byte("png")}
	intake, err := NewIntakeFunction(f.pipeline(t), dl, t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, intake.Process(t.Context(), uploadEvent()))

	recs, err := f.store.ListByUser(t.Context(), "user-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Knee X-ray", recs[0].Title)
	assert.Equal(t, models.DocImagingReport, recs[0].DocumentType)
	assert.Equal(t, []string{"scan.png"}, f.archive.puts)
}

func TestIntakeIgnoresArchivedObjects(t *testing.T) {
	dl := &fakeDownloader{}
	intake, err := NewIntakeFunction(newFixture().pipeline(t), dl, t.TempDir(), nil)
	require.NoError(t, err)

	e := uploadEvent()
	e.Name = "records/2024/05/abc-scan.png"
	require.NoError(t, intake.Process(t.Context(), e))
	assert.Empty(t, dl.objects)
}

func TestIntakeAcknowledgesRejectedUploads(t *testing.T) {
	f := newFixture()
	intake, err := NewIntakeFunction(f.pipeline(t), &fakeDownloader{data: []byte("png")}, t.TempDir(), nil)
	require.NoError(t, err)

	e := uploadEvent()
	delete(e.Metadata, "title")
	assert.NoError(t, intake.Process(t.Context(), e))
	assert.Empty(t, f.store.statuses)
}

func TestIntakeReturnsTransientErrors(t *testing.T) {
	f := newFixture()
	intake, err := NewIntakeFunction(f.pipeline(t), &fakeDownloader{err: errors.New("connection reset")}, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Error(t, intake.Process(t.Context(), uploadEvent()))

	f.store.failCreate = true
	intake, err = NewIntakeFunction(f.pipeline(t), &fakeDownloader{data: []byte("png")}, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Error(t, intake.Process(t.Context(), uploadEvent()))
}
