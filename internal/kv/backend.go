package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNil 表示键或 hash 字段不存在，对应 Redis 的 nil 回复。
var ErrNil = errors.New("kv: nil")

// Backend 是缓存存储依赖的最小键值能力集合，实现必须支持并发调用。
type Backend interface {
	// Get 返回键对应的值；不存在时返回 ErrNil。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 无条件覆盖键值，不设置过期时间。
	Set(ctx context.Context, key string, value []byte) error

	// Del 删除给定键（含 hash），返回实际删除的键数量。
	Del(ctx context.Context, keys ...string) (int64, error)

	// HGet 读取 hash 字段；键或字段不存在时返回 ErrNil。
	HGet(ctx context.Context, key, field string) (string, error)

	// HSet 写入 hash 字段。
	HSet(ctx context.Context, key, field, value string) error

	// HDel 删除 hash 字段，返回删除数量。
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// SetNX 仅在键不存在时写入并附带 ttl，返回是否写入成功。
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// DelIfEqual 仅当当前值等于 value 时删除键，用于安全释放租约。
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Disabled 在未配置后端时使用：读操作一律返回不存在，写操作静默丢弃。
type Disabled struct{}

var _ Backend = Disabled{}

func (Disabled) Get(context.Context, string) ([]byte, error) { return nil, ErrNil }

func (Disabled) Set(context.Context, string, []byte) error { return nil }

func (Disabled) Del(context.Context, ...string) (int64, error) { return 0, nil }

func (Disabled) HGet(context.Context, string, string) (string, error) { return "", ErrNil }

func (Disabled) HSet(context.Context, string, string, string) error { return nil }

func (Disabled) HDel(context.Context, string, ...string) (int64, error) { return 0, nil }

// SetNX 总是成功：没有共享状态也就不存在竞争。
func (Disabled) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// DelIfEqual 与 SetNX 对称：租约总能取得，也总能释放。
func (Disabled) DelIfEqual(context.Context, string, []byte) (bool, error) { return true, nil }

func (Disabled) Close() error { return nil }
