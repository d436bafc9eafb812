package cache

import (
	"context"
	"net/http"

	"github.com/any-hub/httpstore/internal/logging"
)

// Invalidate 将 URI 下所有仍新鲜的变体标记为过期并回写记录。
// 非新鲜变体原样保留；读取失败视为无可失效内容，回写失败返回 *StorageError。
// 读-改-写在该键的租约内完成，获取超时返回 ErrLockUnavailable。
func (s *Store) Invalidate(ctx context.Context, req *http.Request) error {
	key := s.MetadataKey(ctx, req)
	return s.withKeyLock(ctx, key, func(ctx context.Context) error {
		return s.invalidateKey(ctx, key)
	})
}

func (s *Store) invalidateKey(ctx context.Context, key string) error {
	entries, err := s.loadEntries(ctx, "invalidate", key)
	if err != nil {
		s.logger.WithError(err).WithFields(logging.StoreFields("invalidate", key)).Warn("cache_invalidate_read_failed")
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	now := s.now()
	modified := 0
	updated := make([]VariantEntry, 0, len(entries))
	for _, entry := range entries {
		// 只关心头部，正文留空。
		resp, err := ReconstructResponse(entry.Response, nil)
		if err != nil || !s.freshness.IsFresh(resp, now) {
			updated = append(updated, entry)
			continue
		}
		s.freshness.Expire(resp, now)
		modified++
		updated = append(updated, VariantEntry{
			Request:  entry.Request,
			Response: CaptureResponseHeaders(resp),
			Digest:   entry.Digest,
		})
	}
	if modified == 0 {
		return nil
	}

	data, err := EncodeEntries(updated)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		return storageErr("invalidate", key, err)
	}
	s.logger.WithFields(logging.StoreFields("invalidate", key)).
		WithField("expired", modified).
		WithField("variants", len(updated)).
		Info("cache_invalidate")
	return nil
}
