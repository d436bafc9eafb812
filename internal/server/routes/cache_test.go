package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/httpstore/internal/cache"
	"github.com/any-hub/httpstore/internal/kv"
	"github.com/any-hub/httpstore/internal/server"
)

func TestCacheRoutesWriteLookupPurge(t *testing.T) {
	app, _ := newCacheApp(t)
	target := "http://example.com/page"

	resp := doRequest(t, app, http.MethodGet, cachePath("/-/cache", target), "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 before write, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "cache_miss" {
		t.Fatalf("expected cache_miss, got %v", got)
	}

	body := `{"status":200,"headers":{"content-type":["text/html"],"cache-control":["max-age=60"],"connection":["close"]},"body":"<h1>hi</h1>"}`
	resp = doRequest(t, app, http.MethodPut, cachePath("/-/cache", target), body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201 on write, got %d", resp.StatusCode)
	}
	key, _ := decodeBody(t, resp)["key"].(string)
	if !strings.HasPrefix(key, "r:m") {
		t.Fatalf("unexpected key %q", key)
	}

	resp = doRequest(t, app, http.MethodGet, cachePath("/-/cache", target), "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 after write, got %d", resp.StatusCode)
	}
	var payload lookupPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if payload.Key != key || payload.Status != 200 || payload.BodySize != len("<h1>hi</h1>") {
		t.Fatalf("unexpected lookup payload %+v", payload)
	}
	if _, ok := payload.Headers["Connection"]; ok {
		t.Fatalf("hop-by-hop header should not be stored: %v", payload.Headers)
	}
	if got := payload.Headers["Content-Type"]; len(got) != 1 || got[0] != "text/html" {
		t.Fatalf("content type not stored: %v", payload.Headers)
	}

	resp = doRequest(t, app, http.MethodDelete, cachePath("/-/cache", target), "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 on purge, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["purged"]; got != true {
		t.Fatalf("expected purged=true, got %v", got)
	}

	resp = doRequest(t, app, http.MethodDelete, cachePath("/-/cache", target), "")
	if got := decodeBody(t, resp)["purged"]; got != false {
		t.Fatalf("expected purged=false on second purge, got %v", got)
	}
}

func TestCacheRoutesKeyMatchesStore(t *testing.T) {
	app, store := newCacheApp(t)

	resp := doRequest(t, app, http.MethodGet, cachePath("/-/cache/key", "/docs?b=2&a=1"), "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	payload := decodeBody(t, resp)

	req, _ := cache.NewRequest("/docs?a=1&b=2")
	if payload["key"] != store.MetadataKey(context.Background(), req) {
		t.Fatalf("key mismatch: %v", payload["key"])
	}
	if payload["url"] != "http://localhost/docs?a=1&b=2" {
		t.Fatalf("unexpected normalized url: %v", payload["url"])
	}
}

func TestCacheRoutesLookupByVary(t *testing.T) {
	app, _ := newCacheApp(t)
	target := "/negotiated"

	body := `{"status":200,"headers":{"vary":["Accept-Language"],"content-language":["fr"]},"request_headers":{"accept-language":["fr"]}}`
	if resp := doRequest(t, app, http.MethodPut, cachePath("/-/cache", target), body); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("write failed: %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, cachePath("/-/cache", target)+"&match=vary", nil)
	req.Header.Set("Accept-Language", "fr")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("matching variant should hit, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, cachePath("/-/cache", target)+"&match=vary", nil)
	req.Header.Set("Accept-Language", "en")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("non-matching variant should miss, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodGet, cachePath("/-/cache/variants", target), "")
	payload := decodeBody(t, resp)
	if variants, _ := payload["variants"].([]any); len(variants) != 1 {
		t.Fatalf("expected one variant, got %v", payload["variants"])
	}
}

func TestCacheRoutesInvalidate(t *testing.T) {
	app, _ := newCacheApp(t)
	target := "/news"
	date := time.Now().UTC().Format(http.TimeFormat)

	body := fmt.Sprintf(`{"status":200,"headers":{"cache-control":["max-age=300"],"date":[%q]}}`, date)
	if resp := doRequest(t, app, http.MethodPut, cachePath("/-/cache", target), body); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("write failed: %d", resp.StatusCode)
	}

	resp := doRequest(t, app, http.MethodPost, cachePath("/-/cache/invalidate", target), "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodGet, cachePath("/-/cache", target), "")
	var payload lookupPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if got := payload.Headers["Age"]; len(got) != 1 || got[0] != "300" {
		t.Fatalf("expected Age 300 after invalidate, got %v", payload.Headers)
	}
}

func TestCacheRoutesLocks(t *testing.T) {
	app, store := newCacheApp(t)
	target := "/locked"

	req, _ := cache.NewRequest(target)
	if ok, err := store.Lock(context.Background(), req); err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}

	resp := doRequest(t, app, http.MethodGet, cachePath("/-/cache/lock", target), "")
	if got := decodeBody(t, resp)["locked"]; got != true {
		t.Fatalf("expected locked=true, got %v", got)
	}

	resp = doRequest(t, app, http.MethodPost, cachePath("/-/cache/invalidate", target), "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 while locked, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodDelete, "/-/cache/locks", "")
	if got := decodeBody(t, resp)["removed"]; got != true {
		t.Fatalf("expected removed=true, got %v", got)
	}
	resp = doRequest(t, app, http.MethodDelete, "/-/cache/locks", "")
	if got := decodeBody(t, resp)["removed"]; got != false {
		t.Fatalf("expected removed=false on repeat cleanup, got %v", got)
	}

	resp = doRequest(t, app, http.MethodGet, cachePath("/-/cache/lock", target), "")
	if got := decodeBody(t, resp)["locked"]; got != false {
		t.Fatalf("expected locked=false after cleanup, got %v", got)
	}
}

func TestCacheRoutesRequireURL(t *testing.T) {
	app, _ := newCacheApp(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/-/cache"},
		{http.MethodGet, "/-/cache/key"},
		{http.MethodGet, "/-/cache/lock"},
		{http.MethodPost, "/-/cache/invalidate"},
		{http.MethodDelete, "/-/cache"},
		{http.MethodPut, "/-/cache"},
	} {
		resp := doRequest(t, app, tc.method, tc.path, "")
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", tc.method, tc.path, resp.StatusCode)
		}
		if got := decodeBody(t, resp)["error"]; got != "url_required" {
			t.Fatalf("%s %s: expected url_required, got %v", tc.method, tc.path, got)
		}
	}
}

func TestCacheRoutesRejectInvalidBody(t *testing.T) {
	app, _ := newCacheApp(t)

	resp := doRequest(t, app, http.MethodPut, cachePath("/-/cache", "/x"), "{")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", resp.StatusCode)
	}
	resp = doRequest(t, app, http.MethodPut, cachePath("/-/cache", "/x"), `{"status":42}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", resp.StatusCode)
	}
}

func TestCacheRoutesMapStorageErrors(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := server.NewApp(server.AppOptions{Logger: logger, ListenPort: 5080})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	RegisterCacheRoutes(app, failingStore{err: &cache.StorageError{Op: "lookup", Err: fmt.Errorf("connection refused")}}, logger)

	resp := doRequest(t, app, http.MethodGet, cachePath("/-/cache", "/down"), "")
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "storage_unavailable" {
		t.Fatalf("expected storage_unavailable, got %v", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("error responses should carry X-Request-ID")
	}
}

func newCacheApp(t *testing.T) (*fiber.App, *cache.Store) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	backend, err := kv.OpenMemory()
	if err != nil {
		t.Fatalf("open memory backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	store, err := cache.NewStore(backend, cache.Options{
		Keys:              cache.KeysForNamespace("r:"),
		LockTTL:           time.Second,
		LockWait:          50 * time.Millisecond,
		LockRetryInterval: 5 * time.Millisecond,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger, ListenPort: 5080})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	RegisterCacheRoutes(app, store, logger)
	return app, store
}

func cachePath(path, target string) string {
	return path + "?url=" + url.QueryEscape(target)
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return payload
}

// failingStore 对所有操作返回同一个错误，用于验证错误映射。
type failingStore struct {
	err error
}

func (f failingStore) MetadataKey(context.Context, *http.Request) string { return "" }

func (f failingStore) Lookup(context.Context, *http.Request) (*cache.Response, error) {
	return nil, f.err
}

func (f failingStore) LookupVariant(context.Context, *http.Request) (*cache.Response, error) {
	return nil, f.err
}

func (f failingStore) Variants(context.Context, *http.Request) ([]cache.VariantEntry, error) {
	return nil, f.err
}

func (f failingStore) Write(context.Context, *http.Request, *cache.Response) (string, error) {
	return "", f.err
}

func (f failingStore) Invalidate(context.Context, *http.Request) error { return f.err }

func (f failingStore) Purge(context.Context, string) (bool, error) { return false, f.err }

func (f failingStore) IsLocked(context.Context, *http.Request) bool { return false }

func (f failingStore) Cleanup(context.Context) (bool, error) { return false, f.err }
