package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/httpstore/internal/cache"
	"github.com/any-hub/httpstore/internal/server"
)

// CacheStore 是管理接口依赖的缓存能力，测试中可替换为假实现。
type CacheStore interface {
	MetadataKey(ctx context.Context, req *http.Request) string
	Lookup(ctx context.Context, req *http.Request) (*cache.Response, error)
	LookupVariant(ctx context.Context, req *http.Request) (*cache.Response, error)
	Variants(ctx context.Context, req *http.Request) ([]cache.VariantEntry, error)
	Write(ctx context.Context, req *http.Request, resp *cache.Response) (string, error)
	Invalidate(ctx context.Context, req *http.Request) error
	Purge(ctx context.Context, rawURL string) (bool, error)
	IsLocked(ctx context.Context, req *http.Request) bool
	Cleanup(ctx context.Context) (bool, error)
}

var _ CacheStore = (*cache.Store)(nil)

// RegisterCacheRoutes 暴露 /-/cache 管理接口：查询、写入、失效、清除与锁诊断。
func RegisterCacheRoutes(app *fiber.App, store CacheStore, logger *logrus.Logger) {
	if app == nil || store == nil || logger == nil {
		return
	}
	h := &cacheHandler{store: store, logger: logger}

	app.Get("/-/cache/key", h.key)
	app.Get("/-/cache/variants", h.variants)
	app.Get("/-/cache/lock", h.lockStatus)
	app.Delete("/-/cache/locks", h.cleanup)
	app.Post("/-/cache/invalidate", h.invalidate)
	app.Get("/-/cache", h.lookup)
	app.Put("/-/cache", h.write)
	app.Delete("/-/cache", h.purge)
}

type cacheHandler struct {
	store  CacheStore
	logger *logrus.Logger
}

type lookupPayload struct {
	Key      string              `json:"key"`
	Status   int                 `json:"status"`
	Headers  map[string][]string `json:"headers"`
	BodySize int                 `json:"body_size"`
}

type variantPayload struct {
	Request  map[string][]string `json:"request"`
	Response map[string][]string `json:"response"`
	Digest   string              `json:"digest,omitempty"`
}

// writePayload 描述 PUT /-/cache 的请求体。
type writePayload struct {
	Status         int                 `json:"status"`
	Headers        map[string][]string `json:"headers"`
	RequestHeaders map[string][]string `json:"request_headers"`
	Body           string              `json:"body"`
}

func (h *cacheHandler) key(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}
	return c.JSON(fiber.Map{
		"url": cache.NormalizeURI(req),
		"key": h.store.MetadataKey(ctx, req),
	})
}

// lookup 默认返回第一个条目；match=vary 时按当前请求头协商变体。
func (h *cacheHandler) lookup(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}

	var resp *cache.Response
	if strings.EqualFold(c.Query("match"), "vary") {
		req.Header = server.HeaderFromMap(c.GetReqHeaders())
		resp, err = h.store.LookupVariant(ctx, req)
	} else {
		resp, err = h.store.Lookup(ctx, req)
	}
	if err != nil {
		return h.renderError(c, "lookup", err)
	}

	return c.JSON(lookupPayload{
		Key:      h.store.MetadataKey(ctx, req),
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		BodySize: len(resp.Body),
	})
}

func (h *cacheHandler) variants(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}
	entries, err := h.store.Variants(ctx, req)
	if err != nil {
		return h.renderError(c, "variants", err)
	}
	payload := make([]variantPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, variantPayload{
			Request:  entry.Request,
			Response: entry.Response,
			Digest:   entry.Digest,
		})
	}
	return c.JSON(fiber.Map{
		"key":      h.store.MetadataKey(ctx, req),
		"variants": payload,
	})
}

func (h *cacheHandler) write(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}

	var payload writePayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if payload.Status == 0 {
		payload.Status = http.StatusOK
	}
	if payload.Status < 100 || payload.Status > 999 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_status"})
	}

	req.Header = server.HeaderFromMap(payload.RequestHeaders)
	var body []byte
	if payload.Body != "" {
		body = []byte(payload.Body)
	}
	resp := cache.NewResponse(payload.Status, server.HeaderFromMap(payload.Headers), body)

	key, err := h.store.Write(ctx, req, resp)
	if err != nil {
		return h.renderError(c, "write", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key})
}

func (h *cacheHandler) invalidate(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}
	if err := h.store.Invalidate(ctx, req); err != nil {
		return h.renderError(c, "invalidate", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *cacheHandler) purge(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}
	purged, err := h.store.Purge(ctx, req.URL.String())
	if err != nil {
		return h.renderError(c, "purge", err)
	}
	return c.JSON(fiber.Map{"purged": purged})
}

func (h *cacheHandler) lockStatus(c fiber.Ctx) error {
	ctx, req, ok, err := h.target(c)
	if !ok {
		return err
	}
	return c.JSON(fiber.Map{
		"key":    h.store.MetadataKey(ctx, req),
		"locked": h.store.IsLocked(ctx, req),
	})
}

func (h *cacheHandler) cleanup(c fiber.Ctx) error {
	removed, err := h.store.Cleanup(requestContext(c))
	if err != nil {
		return h.renderError(c, "cleanup", err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

// target 解析 url 查询参数；ok 为 false 时响应已写出，调用方直接返回 err。
func (h *cacheHandler) target(c fiber.Ctx) (context.Context, *http.Request, bool, error) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return nil, nil, false, renderURLRequired(c)
	}
	req, err := cache.NewRequest(rawURL)
	if err != nil {
		return nil, nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_url"})
	}
	ctx := cache.WithKeyMemo(requestContext(c))
	return ctx, req.WithContext(ctx), true, nil
}

// renderError 把缓存错误映射为 HTTP 状态：未命中 404、锁超时 409、后端故障 502。
func (h *cacheHandler) renderError(c fiber.Ctx, op string, err error) error {
	fields := logrus.Fields{
		"action":     op,
		"url":        c.Query("url"),
		"request_id": server.RequestID(c),
	}

	switch {
	case errors.Is(err, cache.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_miss"})
	case errors.Is(err, cache.ErrLockUnavailable):
		h.logger.WithFields(fields).WithError(err).Warn("cache lock unavailable")
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "lock_unavailable"})
	case cache.IsStorageError(err):
		h.logger.WithFields(fields).WithError(err).Error("cache storage failure")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "storage_unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "request_cancelled"})
	default:
		h.logger.WithFields(fields).WithError(err).Error("cache operation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}

func renderURLRequired(c fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
