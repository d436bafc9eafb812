package cache

import (
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// StatusHeader 是编码时注入的合成头，携带状态码，使扁平头映射可以自描述。
const StatusHeader = "X-Status"

// Response 是缓存层使用的响应值：状态码、头部与可选正文。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse 构造 Response，header 为 nil 时分配空映射。
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{StatusCode: status, Header: header, Body: body}
}

// HeaderSnapshot 保存写入时的请求头（名称小写），仅用于 Vary 比较。
type HeaderSnapshot map[string][]string

// ResponseHeaders 是响应头加上 StatusHeader 的扁平映射。
type ResponseHeaders map[string][]string

// Get 以大小写无关方式读取头部，多值以 ", " 连接。
func (h ResponseHeaders) Get(name string) string {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for key, values := range h {
		if textproto.CanonicalMIMEHeaderKey(key) == canonical {
			return strings.Join(values, ", ")
		}
	}
	return ""
}

// VariantEntry 是同一 URI 下的一种表示：请求头快照 + 响应元数据 + 正文摘要键。
type VariantEntry struct {
	Request  HeaderSnapshot  `cbor:"1,keyasint"`
	Response ResponseHeaders `cbor:"2,keyasint"`
	Digest   string          `cbor:"3,keyasint,omitempty"`
}

// CaptureRequestHeaders 将请求头名称小写并把下划线统一为连字符。
func CaptureRequestHeaders(header http.Header) HeaderSnapshot {
	snapshot := make(HeaderSnapshot, len(header))
	for name, values := range header {
		key := normalizeHeaderName(name)
		snapshot[key] = append(snapshot[key], values...)
	}
	return snapshot
}

// CaptureResponseHeaders 拷贝全部响应头并写入 StatusHeader。
func CaptureResponseHeaders(resp *Response) ResponseHeaders {
	headers := make(ResponseHeaders, len(resp.Header)+1)
	for name, values := range resp.Header {
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		if canonical == StatusHeader {
			continue
		}
		headers[canonical] = append([]string(nil), values...)
	}
	headers[StatusHeader] = []string{strconv.Itoa(resp.StatusCode)}
	return headers
}

// ReconstructResponse 是 CaptureResponseHeaders 的逆操作：取出并移除 StatusHeader。
func ReconstructResponse(headers ResponseHeaders, body []byte) (*Response, error) {
	var rawStatus []string
	header := make(http.Header, len(headers))
	for name, values := range headers {
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		if canonical == StatusHeader {
			rawStatus = values
			continue
		}
		header[canonical] = append(header[canonical], values...)
	}
	if len(rawStatus) == 0 {
		return nil, &DecodeError{Reason: "missing " + StatusHeader}
	}
	status, err := strconv.Atoi(strings.TrimSpace(rawStatus[0]))
	if err != nil || status < 100 || status > 999 {
		return nil, &DecodeError{Reason: "invalid status " + strconv.Quote(rawStatus[0]), Err: err}
	}
	return NewResponse(status, header, body), nil
}

func normalizeHeaderName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}
