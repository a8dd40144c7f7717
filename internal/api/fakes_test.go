package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"chunkdrop/internal/repository"
	"chunkdrop/internal/session"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSessions 在内存中模拟会话语义：空分块结束会话，结束后的 id 返回 Gone。
type fakeSessions struct {
	mu        sync.Mutex
	chunks    map[uuid.UUID]*bytes.Buffer
	done      map[uuid.UUID]bool
	initErr   error
	appendErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		chunks: map[uuid.UUID]*bytes.Buffer{},
		done:   map[uuid.UUID]bool{},
	}
}

func (f *fakeSessions) Initiate(ctx context.Context, meta []byte) (uuid.UUID, error) {
	if len(meta) > session.MaxMetadataBytes {
		return uuid.Nil, session.ErrMetadataTooLarge
	}
	if f.initErr != nil {
		return uuid.Nil, f.initErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.chunks[id] = &bytes.Buffer{}
	return id, nil
}

func (f *fakeSessions) Append(ctx context.Context, id uuid.UUID, chunk []byte) (session.AppendOutcome, error) {
	if f.appendErr != nil {
		return session.Gone, f.appendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.chunks[id]
	if !ok || f.done[id] {
		return session.Gone, nil
	}
	if len(chunk) == 0 {
		f.done[id] = true
		return session.Done, nil
	}
	buf.Write(chunk)
	return session.Continue, nil
}

func (f *fakeSessions) content(id uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.chunks[id]
	if !ok {
		return "", false
	}
	return buf.String(), f.done[id]
}

type handlerRepo struct {
	records map[uuid.UUID]*repository.UploadRecord
}

func (m *handlerRepo) Begin(ctx context.Context, id uuid.UUID, meta []byte) (repository.PendingUpload, error) {
	return nil, nil
}

func (m *handlerRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (m *handlerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (m *handlerRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.UploadRecord, error) {
	record, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return record, nil
}

func (m *handlerRepo) ListIncomplete(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}
