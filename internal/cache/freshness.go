package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FreshnessPolicy 由调用方提供新鲜度判断与“立即过期”操作，store 只负责持久化结果。
type FreshnessPolicy interface {
	IsFresh(resp *Response, now time.Time) bool
	Expire(resp *Response, now time.Time)
}

// HTTPFreshness 按共享缓存语义计算新鲜度：
// max-age 依次取 s-maxage、max-age、Expires-Date；age 取 Age 头或 now-Date。
type HTTPFreshness struct{}

var _ FreshnessPolicy = HTTPFreshness{}

// IsFresh 当剩余 TTL 大于 0 时返回 true。
func (f HTTPFreshness) IsFresh(resp *Response, now time.Time) bool {
	ttl, ok := f.TTL(resp, now)
	return ok && ttl > 0
}

// Expire 把 Age 设为 max-age 并移除 Expires，使响应立刻变为过期。
func (f HTTPFreshness) Expire(resp *Response, now time.Time) {
	if !f.IsFresh(resp, now) {
		return
	}
	maxAge, _ := f.MaxAge(resp, now)
	resp.Header.Set("Age", strconv.FormatInt(int64(maxAge/time.Second), 10))
	resp.Header.Del("Expires")
}

// TTL 返回 max-age 减去 age；没有任何新鲜度信息时 ok 为 false。
func (f HTTPFreshness) TTL(resp *Response, now time.Time) (time.Duration, bool) {
	maxAge, ok := f.MaxAge(resp, now)
	if !ok {
		return 0, false
	}
	return maxAge - f.Age(resp, now), true
}

// MaxAge 解析响应允许的最大新鲜期。
func (HTTPFreshness) MaxAge(resp *Response, now time.Time) (time.Duration, bool) {
	directives := parseCacheControl(resp.Header.Values("Cache-Control"))
	for _, name := range []string{"s-maxage", "max-age"} {
		if raw, ok := directives[name]; ok {
			delta, ok := parseDeltaSeconds(raw)
			if !ok {
				return 0, true
			}
			return delta, true
		}
	}
	if raw := resp.Header.Get("Expires"); raw != "" {
		expires, err := http.ParseTime(raw)
		if err != nil {
			// 无法解析的 Expires 表示已过期。
			return 0, true
		}
		return expires.Sub(responseDate(resp, now)).Truncate(time.Second), true
	}
	return 0, false
}

// Age 优先读取 Age 头，否则以 Date 到 now 的间隔估算，最小为 0。
func (HTTPFreshness) Age(resp *Response, now time.Time) time.Duration {
	if raw := strings.TrimSpace(resp.Header.Get("Age")); raw != "" {
		if delta, ok := parseDeltaSeconds(raw); ok {
			return delta
		}
	}
	age := now.Sub(responseDate(resp, now))
	if age < 0 {
		return 0
	}
	return age.Truncate(time.Second)
}

// maxDeltaSeconds 是 delta-seconds 的上限（2^31），更大的值一律按此截断。
const maxDeltaSeconds = 1 << 31

// parseDeltaSeconds 解析非负整数秒，超出上限或位数溢出时截断为 maxDeltaSeconds。
func parseDeltaSeconds(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds > maxDeltaSeconds {
		// 仅剩 ErrRange：纯数字但超出 int64。
		seconds = maxDeltaSeconds
	}
	return time.Duration(seconds) * time.Second, true
}

func responseDate(resp *Response, now time.Time) time.Time {
	if raw := resp.Header.Get("Date"); raw != "" {
		if parsed, err := http.ParseTime(raw); err == nil {
			return parsed
		}
	}
	return now
}

func parseCacheControl(values []string) map[string]string {
	directives := make(map[string]string)
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, arg, _ := strings.Cut(part, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			directives[name] = strings.Trim(strings.TrimSpace(arg), `"`)
		}
	}
	return directives
}
