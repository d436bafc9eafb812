package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 磁盘布局：
//
//	s:<key>               -> 8 字节过期时间(UnixNano, 0 表示永不过期) + 值
//	h:<key>\x00<field>    -> hash 字段值
//
// 复合操作（SetNX/DelIfEqual/Del）由 mu 串行化，单进程内具备原子性。
type LevelDB struct {
	db  *leveldb.DB
	mu  sync.Mutex
	now func() time.Time
}

var _ Backend = (*LevelDB)(nil)

// OpenLevelDB 打开（或创建）path 下的数据库目录。
func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, errors.New("leveldb path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db, now: time.Now}, nil
}

// OpenMemory 返回完全驻留内存的 LevelDB，进程退出即丢失，适合测试与单机开发。
func OpenMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &LevelDB{db: db, now: time.Now}, nil
}

func (l *LevelDB) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok, err := l.load(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNil
	}
	return value, nil
}

func (l *LevelDB) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put(stringKey(key), encodeValue(value, time.Time{}), nil)
}

func (l *LevelDB) Del(ctx context.Context, keys ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	batch := new(leveldb.Batch)
	for _, key := range keys {
		found := false
		if _, ok, err := l.load(key); err != nil {
			return 0, err
		} else if ok {
			found = true
		}
		batch.Delete(stringKey(key))

		it := l.db.NewIterator(util.BytesPrefix(hashPrefix(key)), nil)
		for it.Next() {
			found = true
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return 0, err
		}
		if found {
			removed++
		}
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *LevelDB) HGet(ctx context.Context, key, field string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := l.db.Get(hashKey(key, field), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", ErrNil
		}
		return "", err
	}
	return string(value), nil
}

func (l *LevelDB) HSet(ctx context.Context, key, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put(hashKey(key, field), []byte(value), nil)
}

func (l *LevelDB) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	batch := new(leveldb.Batch)
	for _, field := range fields {
		k := hashKey(key, field)
		ok, err := l.db.Has(k, nil)
		if err != nil {
			return 0, err
		}
		if ok {
			removed++
			batch.Delete(k)
		}
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return removed, nil
}

func (l *LevelDB) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok, err := l.load(key); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	var expireAt time.Time
	if ttl > 0 {
		expireAt = l.now().Add(ttl)
	}
	if err := l.db.Put(stringKey(key), encodeValue(value, expireAt), nil); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LevelDB) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok, err := l.load(key)
	if err != nil || !ok {
		return false, err
	}
	if !bytes.Equal(current, value) {
		return false, nil
	}
	if err := l.db.Delete(stringKey(key), nil); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

// load 读取字符串键，过期条目视为不存在（惰性过期，不主动删除）。
func (l *LevelDB) load(key string) ([]byte, bool, error) {
	raw, err := l.db.Get(stringKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, expireAt, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	if !expireAt.IsZero() && !l.now().Before(expireAt) {
		return nil, false, nil
	}
	return value, true, nil
}

func stringKey(key string) []byte {
	return []byte("s:" + key)
}

func hashPrefix(key string) []byte {
	return []byte("h:" + key + "\x00")
}

func hashKey(key, field string) []byte {
	return append(hashPrefix(key), field...)
}

func encodeValue(value []byte, expireAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	if !expireAt.IsZero() {
		binary.BigEndian.PutUint64(buf[:8], uint64(expireAt.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func decodeValue(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < 8 {
		return nil, time.Time{}, errors.New("leveldb: truncated value")
	}
	var expireAt time.Time
	if nanos := binary.BigEndian.Uint64(raw[:8]); nanos != 0 {
		expireAt = time.Unix(0, int64(nanos))
	}
	return append([]byte(nil), raw[8:]...), expireAt, nil
}
