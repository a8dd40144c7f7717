package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chunkdrop/internal/events"
	"chunkdrop/internal/repository"
	"chunkdrop/internal/storage"
	"chunkdrop/internal/storage/local"

	"github.com/google/uuid"
)

// memRepo is an in-memory UploadRepository; rows become visible on Commit.
type memRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*repository.UploadRecord
	begins    int
	rollbacks int
	beginErr  error
	markErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[uuid.UUID]*repository.UploadRecord{}}
}

type memPending struct {
	repo *memRepo
	rec  *repository.UploadRecord
}

func (p *memPending) Commit() error {
	p.repo.mu.Lock()
	defer p.repo.mu.Unlock()
	if _, ok := p.repo.rows[p.rec.ID]; ok {
		return errors.New("duplicate key")
	}
	p.repo.rows[p.rec.ID] = p.rec
	return nil
}

func (p *memPending) Rollback() error {
	p.repo.mu.Lock()
	defer p.repo.mu.Unlock()
	p.repo.rollbacks++
	return nil
}

func (r *memRepo) Begin(ctx context.Context, id uuid.UUID, meta []byte) (repository.PendingUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begins++
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	return &memPending{repo: r, rec: &repository.UploadRecord{ID: id, Meta: meta, Created: time.Now()}}, nil
}

func (r *memRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	rec, ok := r.rows[id]
	if !ok || rec.Completed != nil {
		return repository.ErrNotFound
	}
	rec.Completed = &at
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memRepo) ListIncomplete(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, rec := range r.rows {
		if rec.Completed == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memRepo) get(id uuid.UUID) (*repository.UploadRecord, bool) {
	rec, err := r.GetByID(context.Background(), id)
	return rec, err == nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memRepo) setMarkErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markErr = err
}

// testFiles is a real directory whose destinations can be told to fail.
type testFiles struct {
	*local.Dir
	createErr  error
	failWrites atomic.Bool
	failSync   atomic.Bool
}

func newTestFiles(t *testing.T) *testFiles {
	return &testFiles{Dir: local.New(t.TempDir())}
}

func (f *testFiles) Create(key string) (storage.Destination, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	dst, err := f.Dir.Create(key)
	if err != nil {
		return nil, err
	}
	return &flakyDest{Destination: dst, files: f}, nil
}

func (f *testFiles) exists(id uuid.UUID) bool {
	_, err := os.Stat(filepath.Join(f.BaseDir, id.String()))
	return err == nil
}

func (f *testFiles) content(t *testing.T, id uuid.UUID) string {
	t.Helper()
	body, err := os.ReadFile(filepath.Join(f.BaseDir, id.String()))
	if err != nil {
		t.Fatalf("read upload %s: %v", id, err)
	}
	return string(body)
}

type flakyDest struct {
	storage.Destination
	files *testFiles
}

func (d *flakyDest) Write(p []byte) (int, error) {
	if d.files.failWrites.Load() {
		return 0, errors.New("disk full")
	}
	return d.Destination.Write(p)
}

func (d *flakyDest) Sync() error {
	if d.files.failSync.Load() {
		return errors.New("sync failed")
	}
	return d.Destination.Sync()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) byID(id uuid.UUID) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

type recordingArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *recordingArchive) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = body
	return storage.Location{Path: key, URL: "mem://" + key}, nil
}

func (a *recordingArchive) get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.objects[key]
	return body, ok
}
