package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/httpstore/internal/kv"
)

var testNow = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

var errBackendDown = errors.New("backend down")

// newMemoryBackend returns an in-memory LevelDB backend closed at test end.
func newMemoryBackend(t *testing.T) *kv.LevelDB {
	t.Helper()
	backend, err := kv.OpenMemory()
	if err != nil {
		t.Fatalf("open memory backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

// newTestStore returns a Store with short lock timings over backend.
func newTestStore(t *testing.T, backend kv.Backend) *Store {
	t.Helper()
	store, err := NewStore(backend, Options{
		Keys:              KeysForNamespace("t:"),
		LockTTL:           time.Second,
		LockWait:          200 * time.Millisecond,
		LockRetryInterval: 5 * time.Millisecond,
		Now:               func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func mustRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := NewRequest(rawURL)
	if err != nil {
		t.Fatalf("new request %s: %v", rawURL, err)
	}
	return req
}

func freshResponse(body string) *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "public, max-age=60")
	header.Set("Date", testNow.Format(http.TimeFormat))
	return NewResponse(http.StatusOK, header, []byte(body))
}

func staleResponse() *Response {
	header := http.Header{}
	header.Set("Cache-Control", "max-age=0")
	header.Set("Date", testNow.Format(http.TimeFormat))
	return NewResponse(http.StatusOK, header, nil)
}

// flakyBackend wraps a real backend and injects failures per operation.
type flakyBackend struct {
	kv.Backend
	getErr error
	setErr error
	delErr error
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Backend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Backend.Set(ctx, key, value)
}

func (f *flakyBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	if f.delErr != nil {
		return 0, f.delErr
	}
	return f.Backend.Del(ctx, keys...)
}
