package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-media/internal/models/po"
	"github.com/bionicotaku/lingo-services-media/internal/services"
)

const (
	// resolveTimeout 约束单次解析的耗时上限。解析路径可能包含一次
	// 同步的源站抓取与上传，给出比普通查询更宽裕的预算。
	resolveTimeout = 30 * time.Second
	// queryTimeout 定义纯查询操作的默认超时时间
	queryTimeout = 5 * time.Second
)

// MediaHandler 负责处理媒体解析相关的 HTTP 请求。
type MediaHandler struct {
	resolver *services.MediaResolverService
	store    services.RemoteStore
	log      *log.Helper
}

// NewMediaHandler 构造媒体 Handler。
func NewMediaHandler(resolver *services.MediaResolverService, store services.RemoteStore, logger log.Logger) *MediaHandler {
	return &MediaHandler{
		resolver: resolver,
		store:    store,
		log:      log.NewHelper(log.With(logger, "module", "controller/media")),
	}
}

// Resolve 处理 GET /v1/media/resolve：返回解析结果的 JSON 描述。
func (h *MediaHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()

	originalURL, kind, entityID := parseResolveQuery(r)
	result := h.resolver.Resolve(ctx, originalURL, kind, entityID)
	writeJSON(w, http.StatusOK, result)
}

// Image 处理 GET /v1/media/image：把解析结果直接兑现成图片响应。
// remote/redirect 走 302，local 从存储后端取字节直出，none 返回 404。
func (h *MediaHandler) Image(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()

	originalURL, kind, entityID := parseResolveQuery(r)
	result := h.resolver.Resolve(ctx, originalURL, kind, entityID)

	switch result.Kind {
	case services.ResolveKindNone:
		http.Error(w, "no image available", http.StatusNotFound)
	case services.ResolveKindLocal:
		data, err := h.store.Download(ctx, result.Value)
		if err != nil {
			h.log.WithContext(ctx).Warnf("download %s: %v", result.Value, err)
			http.Error(w, "image unavailable", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(data)
	default:
		http.Redirect(w, r, result.Value, http.StatusFound)
	}
}

// Stats 处理 GET /v1/media/stats：返回缓存索引的状态分布。
func (h *MediaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	stats, err := h.resolver.Stats(ctx)
	if err != nil {
		h.log.WithContext(ctx).Errorf("load cache stats: %v", err)
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseResolveQuery 提取解析入参；entity_id 非法时按 uuid.Nil 处理（跳过回写）。
func parseResolveQuery(r *http.Request) (string, po.EntityKind, uuid.UUID) {
	q := r.URL.Query()
	originalURL := q.Get("url")
	kind := po.EntityKind(q.Get("kind"))

	entityID := uuid.Nil
	if raw := q.Get("entity_id"); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			entityID = parsed
		}
	}
	return originalURL, kind, entityID
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
