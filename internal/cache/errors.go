package cache

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示缓存不存在（包括记录损坏被视为缺失的情况）。
var ErrNotFound = errors.New("cache entry not found")

// ErrLockUnavailable 表示在等待窗口内未能取得租约。
var ErrLockUnavailable = errors.New("cache lock unavailable")

// StorageError 包装后端 I/O 失败，调用方应按缓存未命中处理（回源）。
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DecodeError 表示存储字节无法还原为条目。
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode cache entry: " + e.Reason
	}
	return fmt.Sprintf("decode cache entry: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsStorageError 判断 err 链中是否包含 StorageError。
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}
