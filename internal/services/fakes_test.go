package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medicaldocumentflow/internal/archive"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
	"github.com/Lllllllleong/medicaldocumentflow/internal/store"
	"github.com/Lllllllleong/medicaldocumentflow/internal/voice"
)

type fakePageReader struct {
	mu    sync.Mutex
	text  string
	err   error
	mimes []string
}

func (f *fakePageReader) ReadPage(_ context.Context, mimeType string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mimes = append(f.mimes, mimeType)
	return f.text, f.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	fn      func(prompt string) (string, error)
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.fn(prompt)
}

func replyWith(text string) *fakeGenerator {
	return &fakeGenerator{fn: func(string) (string, error) { return text, nil }}
}

func failWith(err error) *fakeGenerator {
	return &fakeGenerator{fn: func(string) (string, error) { return "", err }}
}

// fakeCalls scripts the call platform. Initiate rejects numbers the real
// client could not dial. GetStatus walks through states and repeats the
// last one.
type fakeCalls struct {
	mu          sync.Mutex
	initiateErr error
	states      []voice.CallState
	initiated   []voice.CallRequest
	fetches     int
}

func (f *fakeCalls) Initiate(_ context.Context, req voice.CallRequest) (voice.CallHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, req)
	if f.initiateErr != nil {
		return voice.CallHandle{}, f.initiateErr
	}
	if _, err := voice.NormalizePhone(req.Phone); err != nil {
		return voice.CallHandle{}, err
	}
	return voice.CallHandle{CallID: "call-1", Status: models.CallRegistered}, nil
}

func (f *fakeCalls) GetStatus(_ context.Context, callID string) (voice.CallState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.states) == 0 {
		return voice.CallState{}, errors.New("no scripted state")
	}
	i := f.fetches - 1
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	st := f.states[i]
	st.CallID = callID
	return st, nil
}

func (f *fakeCalls) initiateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.initiated)
}

// recordingStore wraps the memory store and keeps every processingStatus and
// call status it was asked to write. Like Firestore, it refuses writes on a
// cancelled context.
type recordingStore struct {
	*store.Memory
	mu          sync.Mutex
	statuses    []models.ProcessingStatus
	callStatus  []models.CallStatus
	failUpdates bool
	failCreate  bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: store.NewMemory()}
}

func (s *recordingStore) Create(ctx context.Context, rec *models.Record) (string, error) {
	if s.failCreate {
		return "", errors.New("firestore unavailable")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.statuses = append(s.statuses, rec.ProcessingStatus)
	s.mu.Unlock()
	return s.Memory.Create(ctx, rec)
}

func (s *recordingStore) UpdateFields(ctx context.Context, id string, updates []store.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, u := range updates {
		switch u.Path {
		case "processingStatus":
			s.statuses = append(s.statuses, u.Value.(models.ProcessingStatus))
		case "verificationCall.status":
			s.callStatus = append(s.callStatus, u.Value.(models.CallStatus))
		}
	}
	s.mu.Unlock()
	if s.failUpdates {
		return errors.New("write conflict")
	}
	return s.Memory.UpdateFields(ctx, id, updates)
}

type fakeArchive struct {
	mu        sync.Mutex
	putErr    error
	deleteErr error
	puts      []string
	deletes   []string
}

func (f *fakeArchive) Put(ctx context.Context, _ []byte, name, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.puts = append(f.puts, name)
	return "https://storage.googleapis.com/mdf-test/records/2024/05/id-" + name, nil
}

func (f *fakeArchive) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, url)
	return f.deleteErr
}

var _ archive.Store = (*fakeArchive)(nil)

// writeUpload drops a file into dir the way the intake function would.
func writeUpload(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
