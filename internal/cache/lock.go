package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/any-hub/httpstore/internal/kv"
	"github.com/any-hub/httpstore/internal/logging"
)

// lockedMark 是锁键 hash 中表示“已锁定”的字段值。
const lockedMark = "1"

// Lock 尝试为请求获取租约（SET NX + TTL），并在锁键 hash 中登记。
// 已被其他持有者占用时返回 false；进程崩溃后由 TTL 兜底释放。
func (s *Store) Lock(ctx context.Context, req *http.Request) (bool, error) {
	return s.acquire(ctx, s.MetadataKey(ctx, req))
}

// Unlock 释放本进程持有的租约；未持有或租约已过期时返回 false。
func (s *Store) Unlock(ctx context.Context, req *http.Request) (bool, error) {
	return s.release(ctx, s.MetadataKey(ctx, req))
}

// IsLocked 仅当锁标记为 1 且租约仍然存在时返回 true；任何缺失或故障都视为未锁定。
func (s *Store) IsLocked(ctx context.Context, req *http.Request) bool {
	key := s.MetadataKey(ctx, req)
	mark, err := s.backend.HGet(ctx, s.keys.LockKey(), key)
	if err != nil {
		if !errors.Is(err, kv.ErrNil) {
			s.logger.WithError(err).WithFields(logging.StoreFields("is_locked", key)).Warn("cache_lock_check_failed")
		}
		return false
	}
	if mark != lockedMark {
		return false
	}
	if _, err := s.backend.Get(ctx, s.keys.LeaseKey(key)); err != nil {
		return false
	}
	return true
}

// WithLock 在持有请求租约期间执行 fn，任何退出路径都会释放租约。
func (s *Store) WithLock(ctx context.Context, req *http.Request, fn func(context.Context) error) error {
	return s.withKeyLock(ctx, s.MetadataKey(ctx, req), fn)
}

func (s *Store) withKeyLock(ctx context.Context, key string, fn func(context.Context) error) error {
	// 同进程的竞争者先在本地排队，避免对后端轮询；本地等待与后端轮询共用同一截止时间。
	deadline := time.Now().Add(s.lockWait)
	unlockLocal, err := s.locals.lock(ctx, key, deadline)
	if err != nil {
		return err
	}
	defer unlockLocal()

	for {
		acquired, err := s.acquire(ctx, key)
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s", ErrLockUnavailable, key)
		}
		timer := time.NewTimer(s.lockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	defer func() {
		if _, err := s.release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.WithError(err).WithFields(logging.StoreFields("unlock", key)).Warn("cache_unlock_failed")
		}
	}()
	return fn(ctx)
}

func (s *Store) acquire(ctx context.Context, key string) (bool, error) {
	lease := s.keys.LeaseKey(key)
	token := uuid.NewString()
	ok, err := s.backend.SetNX(ctx, lease, []byte(token), s.lockTTL)
	if err != nil {
		return false, storageErr("lock", lease, err)
	}
	if !ok {
		return false, nil
	}
	if err := s.backend.HSet(ctx, s.keys.LockKey(), key, lockedMark); err != nil {
		_, _ = s.backend.DelIfEqual(ctx, lease, []byte(token))
		return false, storageErr("lock", s.keys.LockKey(), err)
	}
	s.leases.Store(key, token)
	s.logger.WithFields(logging.StoreFields("lock", key)).Debug("cache_lock_acquired")
	return true, nil
}

func (s *Store) release(ctx context.Context, key string) (bool, error) {
	value, ok := s.leases.LoadAndDelete(key)
	if !ok {
		return false, nil
	}
	token, _ := value.(string)
	lease := s.keys.LeaseKey(key)
	released, err := s.backend.DelIfEqual(ctx, lease, []byte(token))
	if err != nil {
		return false, storageErr("unlock", lease, err)
	}
	if !released {
		// 租约已过期，标记可能已属于新的持有者，保持不动。
		s.logger.WithFields(logging.StoreFields("unlock", key)).Warn("cache_lock_expired")
		return false, nil
	}
	if _, err := s.backend.HDel(ctx, s.keys.LockKey(), key); err != nil {
		return true, storageErr("unlock", s.keys.LockKey(), err)
	}
	return true, nil
}

// entryLocks 为每个键维护容量为 1 的信号量，串行化同一键的本地访问，空闲后自动回收。
type entryLocks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	sem  chan struct{}
	refs int
}

func newEntryLocks() *entryLocks {
	return &entryLocks{locks: make(map[string]*entryLock)}
}

// lock 等待键的信号量，直到 ctx 结束或到达 deadline。
func (l *entryLocks) lock(ctx context.Context, key string, deadline time.Time) (func(), error) {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	unlock := func() {
		<-lock.sem
		l.unref(key, lock)
	}
	select {
	case lock.sem <- struct{}{}:
		return unlock, nil
	default:
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case lock.sem <- struct{}{}:
		return unlock, nil
	case <-ctx.Done():
		l.unref(key, lock)
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(key, lock)
		return nil, fmt.Errorf("%w: %s", ErrLockUnavailable, key)
	}
}

func (l *entryLocks) unref(key string, lock *entryLock) {
	l.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
