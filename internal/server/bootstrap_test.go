package server

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/any-hub/httpstore/internal/cache"
	"github.com/any-hub/httpstore/internal/config"
	"github.com/any-hub/httpstore/internal/kv"
)

func TestOpenBackendByType(t *testing.T) {
	ctx := context.Background()
	redisServer := miniredis.RunT(t)

	testCases := []struct {
		name string
		cfg  config.BackendConfig
	}{
		{"memory", config.BackendConfig{Type: config.BackendMemory}},
		{"default", config.BackendConfig{}},
		{"disabled", config.BackendConfig{Type: config.BackendDisabled}},
		{"leveldb", config.BackendConfig{Type: config.BackendLevelDB, Path: filepath.Join(t.TempDir(), "db")}},
		{"redis", config.BackendConfig{
			Type:        config.BackendRedis,
			Addr:        redisServer.Addr(),
			DialTimeout: config.Duration(time.Second),
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend, err := OpenBackend(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("open backend: %v", err)
			}
			defer backend.Close()
			if err := backend.Set(ctx, "ping", []byte("1")); err != nil {
				t.Fatalf("set: %v", err)
			}
		})
	}
}

func TestOpenBackendRejectsUnknownType(t *testing.T) {
	if _, err := OpenBackend(context.Background(), config.BackendConfig{Type: "memcached"}); err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
}

func TestNewCacheStoreUsesConfiguredPrefixes(t *testing.T) {
	backend, err := kv.OpenMemory()
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer backend.Close()

	store, err := NewCacheStore(config.StoreConfig{
		MetadataKeyPrefix: "symfony:m",
		DigestKeyPrefix:   "symfony:d",
		LockKey:           "symfony:l",
		LockTTL:           config.Duration(time.Second),
		LockWait:          config.Duration(100 * time.Millisecond),
	}, backend, discardLogger())
	if err != nil {
		t.Fatalf("new cache store: %v", err)
	}

	req, err := cache.NewRequest("/page")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	key, err := store.Write(context.Background(), req, cache.NewResponse(http.StatusOK, nil, nil))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(key) != len("symfony:m")+40 || key[:len("symfony:m")] != "symfony:m" {
		t.Fatalf("unexpected metadata key %s", key)
	}
	if store.Keys().LockKey() != "symfony:l" {
		t.Fatalf("unexpected lock key %s", store.Keys().LockKey())
	}
}

func TestNewCacheStoreRequiresPrefixes(t *testing.T) {
	if _, err := NewCacheStore(config.StoreConfig{}, kv.Disabled{}, discardLogger()); err == nil {
		t.Fatalf("expected error without key prefixes")
	}
}
