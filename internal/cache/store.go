package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/httpstore/internal/kv"
	"github.com/any-hub/httpstore/internal/logging"
)

// Options 控制 Store 的键前缀、锁租约与新鲜度策略。
type Options struct {
	Keys              Keys
	LockTTL           time.Duration
	LockWait          time.Duration
	LockRetryInterval time.Duration
	Freshness         FreshnessPolicy
	Logger            *logrus.Logger
	Now               func() time.Time
}

// Store 在 kv.Backend 之上实现缓存条目的查找、写入、失效与清理。
// 除租约 token 与本地锁表外不持有进程内状态，可被多个 goroutine 共享。
type Store struct {
	backend   kv.Backend
	keys      Keys
	freshness FreshnessPolicy
	logger    *logrus.Logger
	now       func() time.Time

	lockTTL   time.Duration
	lockWait  time.Duration
	lockRetry time.Duration

	locals *entryLocks
	leases sync.Map // key: metadata key, value: lease token
}

// NewStore 以 backend 为根构建缓存存储，整站复用一份实例。
func NewStore(backend kv.Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("kv backend required")
	}
	if !opts.Keys.valid() {
		return nil, errors.New("metadata, digest and lock key prefixes required")
	}

	s := &Store{
		backend:   backend,
		keys:      opts.Keys,
		freshness: opts.Freshness,
		logger:    opts.Logger,
		now:       opts.Now,
		lockTTL:   opts.LockTTL,
		lockWait:  opts.LockWait,
		lockRetry: opts.LockRetryInterval,
		locals:    newEntryLocks(),
	}
	if s.freshness == nil {
		s.freshness = HTTPFreshness{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.lockRetry <= 0 {
		s.lockRetry = 50 * time.Millisecond
	}
	if s.lockWait < 0 {
		s.lockWait = 0
	}
	return s, nil
}

// Keys 返回当前实例使用的键派生器。
func (s *Store) Keys() Keys {
	return s.keys
}

// MetadataKey 返回请求对应的元数据键；ctx 挂载了 WithKeyMemo 时复用已计算结果。
func (s *Store) MetadataKey(ctx context.Context, req *http.Request) string {
	uri := NormalizeURI(req)
	memo := memoFrom(ctx)
	if memo == nil {
		memo = memoFrom(req.Context())
	}
	if memo == nil {
		return s.keys.metadataKeyForURI(uri)
	}
	return memo.lookup(uri, s.keys.metadataKeyForURI)
}

// Lookup 返回元数据键下记录的第一个条目，不按 Vary 过滤（由调用方协商）。
// 不存在或记录损坏时返回 ErrNotFound；后端故障返回 *StorageError。
func (s *Store) Lookup(ctx context.Context, req *http.Request) (*Response, error) {
	key := s.MetadataKey(ctx, req)
	entries, err := s.loadEntries(ctx, "lookup", key)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		s.logger.WithFields(logging.StoreFields("lookup", key)).Debug("cache_miss")
		return nil, ErrNotFound
	}
	return s.restore(ctx, key, entries[0])
}

// LookupVariant 返回第一个 Vary 头与当前请求匹配的条目。
func (s *Store) LookupVariant(ctx context.Context, req *http.Request) (*Response, error) {
	key := s.MetadataKey(ctx, req)
	entries, err := s.loadEntries(ctx, "lookup_variant", key)
	if err != nil {
		return nil, err
	}
	current := CaptureRequestHeaders(req.Header)
	for _, entry := range entries {
		if RequestsMatch(entry.Response.Get("Vary"), current, entry.Request) {
			return s.restore(ctx, key, entry)
		}
	}
	s.logger.WithFields(logging.StoreFields("lookup_variant", key)).
		WithField("variants", len(entries)).
		Debug("cache_miss")
	return nil, ErrNotFound
}

// Variants 返回元数据键下完整的变体列表，缺失时为空列表。
func (s *Store) Variants(ctx context.Context, req *http.Request) ([]VariantEntry, error) {
	key := s.MetadataKey(ctx, req)
	entries, err := s.loadEntries(ctx, "variants", key)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []VariantEntry{}
	}
	return entries, nil
}

// Write 用单条目记录覆盖元数据键（不与旧变体合并），正文按摘要键单独存放。
func (s *Store) Write(ctx context.Context, req *http.Request, resp *Response) (string, error) {
	if resp == nil {
		return "", errors.New("response required")
	}
	key := s.MetadataKey(ctx, req)
	entry := VariantEntry{
		Request:  CaptureRequestHeaders(req.Header),
		Response: CaptureResponseHeaders(resp),
	}

	if len(resp.Body) > 0 {
		digestKey := s.keys.DigestKey(resp.Body)
		if err := s.backend.Set(ctx, digestKey, resp.Body); err != nil {
			return "", storageErr("write_body", digestKey, err)
		}
		entry.Digest = digestKey
	}

	data, err := EncodeEntries([]VariantEntry{entry})
	if err != nil {
		return "", err
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		return "", storageErr("write", key, err)
	}

	s.logger.WithFields(logging.StoreFields("write", key)).
		WithField("status", resp.StatusCode).
		Debug("cache_write")
	return key, nil
}

// Purge 直接删除 URL 对应的元数据键；记录存在并被删除时返回 true。
func (s *Store) Purge(ctx context.Context, rawURL string) (bool, error) {
	req, err := NewRequest(rawURL)
	if err != nil {
		return false, err
	}
	key := s.MetadataKey(ctx, req)
	removed, err := s.backend.Del(ctx, key)
	if err != nil {
		return false, storageErr("purge", key, err)
	}
	s.logger.WithFields(logging.StoreFields("purge", key)).
		WithField("removed", removed).
		Info("cache_purge")
	return removed == 1, nil
}

// Cleanup 删除固定锁键，重置进程间的锁标记；重复调用返回 false 而非报错。
func (s *Store) Cleanup(ctx context.Context) (bool, error) {
	lockKey := s.keys.LockKey()
	removed, err := s.backend.Del(ctx, lockKey)
	if err != nil {
		return false, storageErr("cleanup", lockKey, err)
	}
	s.logger.WithFields(logging.StoreFields("cleanup", lockKey)).
		WithField("removed", removed).
		Info("cache_cleanup")
	return removed == 1, nil
}

// loadEntries 读取并解码变体列表：缺失返回 nil；损坏记录记日志后同样返回 nil。
func (s *Store) loadEntries(ctx context.Context, op, key string) ([]VariantEntry, error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNil) {
			return nil, nil
		}
		return nil, storageErr(op, key, err)
	}
	entries, err := DecodeEntries(raw)
	if err != nil {
		s.logger.WithError(err).WithFields(logging.StoreFields(op, key)).Warn("cache_decode_failed")
		return nil, nil
	}
	return entries, nil
}

// restore 将条目还原为 Response，并按摘要键补齐正文。
func (s *Store) restore(ctx context.Context, key string, entry VariantEntry) (*Response, error) {
	var body []byte
	if entry.Digest != "" {
		data, err := s.backend.Get(ctx, entry.Digest)
		switch {
		case err == nil:
			body = data
		case errors.Is(err, kv.ErrNil):
			s.logger.WithFields(logging.StoreFields("lookup", key)).
				WithField("digest", entry.Digest).
				Warn("cache_body_missing")
			return nil, ErrNotFound
		default:
			return nil, storageErr("read_body", entry.Digest, err)
		}
	}
	resp, err := ReconstructResponse(entry.Response, body)
	if err != nil {
		s.logger.WithError(err).WithFields(logging.StoreFields("lookup", key)).Warn("cache_decode_failed")
		return nil, ErrNotFound
	}
	s.logger.WithFields(logging.StoreFields("lookup", key)).Debug("cache_hit")
	return resp, nil
}
