package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Keys 派生三类存储键：元数据键（按 URI）、摘要键（按正文）以及固定锁键。
// 同一前缀下，相同的规范化 URI 永远得到相同的元数据键。
type Keys struct {
	metadataPrefix string
	digestPrefix   string
	lockKey        string
}

// NewKeys 使用显式前缀构造 Keys。
func NewKeys(metadataPrefix, digestPrefix, lockKey string) Keys {
	return Keys{
		metadataPrefix: metadataPrefix,
		digestPrefix:   digestPrefix,
		lockKey:        lockKey,
	}
}

// KeysForNamespace 按 <ns>m / <ns>d / <ns>l 约定派生前缀。
func KeysForNamespace(namespace string) Keys {
	return NewKeys(namespace+"m", namespace+"d", namespace+"l")
}

func (k Keys) valid() bool {
	return k.metadataPrefix != "" && k.digestPrefix != "" && k.lockKey != ""
}

// MetadataKey 对请求的规范化 URI 取 SHA-1 并加上元数据前缀。
func (k Keys) MetadataKey(req *http.Request) string {
	return k.metadataKeyForURI(NormalizeURI(req))
}

func (k Keys) metadataKeyForURI(uri string) string {
	return k.metadataPrefix + hexDigest([]byte(uri))
}

// DigestKey 对正文做内容寻址，相同字节得到相同键。
func (k Keys) DigestKey(body []byte) string {
	return k.digestPrefix + hexDigest(body)
}

// LockKey 返回实例级固定锁键，其 hash 字段记录哪些元数据键处于锁定状态。
func (k Keys) LockKey() string {
	return k.lockKey
}

// LeaseKey 返回某个元数据键的租约键。
func (k Keys) LeaseKey(metadataKey string) string {
	return k.lockKey + ":" + metadataKey
}

func hexDigest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeURI 输出 scheme://host[:port]/path[?query]，其中 host 小写、默认端口省略、
// query 按参数名排序，保证语义相同的 URL 得到同一字符串。
func NormalizeURI(req *http.Request) string {
	u := req.URL
	if u == nil {
		u = &url.URL{}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
		if req.TLS != nil {
			scheme = "https"
		}
	}

	host := u.Host
	if host == "" {
		host = req.Host
	}
	if host == "" {
		host = "localhost"
	}
	host = stripDefaultPort(scheme, strings.ToLower(host))

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	uri := scheme + "://" + host + path
	if query := normalizeQuery(u.RawQuery); query != "" {
		uri += "?" + query
	}
	return uri
}

func stripDefaultPort(scheme, host string) string {
	hostname, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(hostname, ":") {
			return "[" + hostname + "]"
		}
		return hostname
	}
	return host
}

func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	return values.Encode()
}

// NewRequest 为管理操作（purge 等）构造 GET 请求；仅含路径的 URL 以 http://localhost 为基准。
func NewRequest(rawURL string) (*http.Request, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if parsed.Host == "" {
		base := &url.URL{Scheme: "http", Host: "localhost"}
		parsed = base.ResolveReference(parsed)
	}
	return http.NewRequest(http.MethodGet, parsed.String(), nil)
}

// keyMemo 在单个请求处理期间缓存已计算的元数据键，随 context 一同失效。
type keyMemo struct {
	mu   sync.Mutex
	keys map[string]string
}

type keyMemoCtxKey struct{}

// WithKeyMemo 为 ctx 挂载键缓存；同一请求多次调用 store 时可避免重复哈希。
func WithKeyMemo(ctx context.Context) context.Context {
	if memoFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, keyMemoCtxKey{}, &keyMemo{keys: make(map[string]string)})
}

func memoFrom(ctx context.Context) *keyMemo {
	if ctx == nil {
		return nil
	}
	memo, _ := ctx.Value(keyMemoCtxKey{}).(*keyMemo)
	return memo
}

func (m *keyMemo) lookup(uri string, compute func(string) string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[uri]; ok {
		return key
	}
	key := compute(uri)
	m.keys[uri] = key
	return key
}
