package cache

import (
	"slices"
	"strings"
	"unicode"
)

// RequestsMatch 判断两组请求头在 vary 列出的头上是否一致。
// vary 为空表示不区分变体；两侧都缺失视为一致，仅一侧存在视为不一致。
func RequestsMatch(vary string, a, b HeaderSnapshot) bool {
	names := strings.FieldsFunc(vary, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	for _, name := range names {
		key := normalizeHeaderName(name)
		v1, ok1 := a[key]
		v2, ok2 := b[key]
		if ok1 != ok2 {
			return false
		}
		if !slices.Equal(v1, v2) {
			return false
		}
	}
	return true
}
