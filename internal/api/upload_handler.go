package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"chunkdrop/internal/middleware"
	"chunkdrop/internal/repository"
	"chunkdrop/internal/service"
	"chunkdrop/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Sessions 是 HTTP 层需要的上传会话操作，由 *session.Handle 实现。
type Sessions interface {
	Initiate(ctx context.Context, meta []byte) (uuid.UUID, error)
	Append(ctx context.Context, id uuid.UUID, chunk []byte) (session.AppendOutcome, error)
}

var _ Sessions = (*session.Handle)(nil)

// UploadHandler 提供分块上传及其查询相关的 HTTP 端点。
type UploadHandler struct {
	sessions      Sessions
	uploads       *service.UploadService
	logger        *slog.Logger
	maxChunkBytes int64
}

func NewUploadHandler(sessions Sessions, uploads *service.UploadService, logger *slog.Logger, maxChunkBytes int64) *UploadHandler {
	return &UploadHandler{
		sessions:      sessions,
		uploads:       uploads,
		logger:        logger,
		maxChunkBytes: maxChunkBytes,
	}
}

// RegisterRoutes 注册到 /api/upload 子路由下。
func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Initiate)
	r.Patch("/{id}", h.Append)
	r.Get("/{id}", h.Download)
	r.Get("/{id}/meta", h.Metadata)
}

// Initiate 以请求体作为元数据创建上传会话，返回纯文本 id。
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	// 多读一个字节即可判断是否超限，不必缓冲整个超大请求体
	meta, err := io.ReadAll(io.LimitReader(r.Body, session.MaxMetadataBytes+1))
	if err != nil {
		writeText(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	id, err := h.sessions.Initiate(r.Context(), meta)
	switch {
	case errors.Is(err, session.ErrMetadataTooLarge):
		writeText(w, http.StatusBadRequest, metadataTooLargeMessage)
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		writeInternal(w, r, h.logger, "initiate upload failed", err)
		return
	}

	h.logger.Info("upload initiated", "id", id, "meta_bytes", len(meta), "owner", middleware.GetOwnerID(r.Context()))
	writeText(w, http.StatusOK, id.String())
}

// Append 写入一个分块；空请求体表示上传结束。
func (h *UploadHandler) Append(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeNotFound(w)
		return
	}

	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxChunkBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "chunk too large")
			return
		}
		writeText(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	outcome, err := h.sessions.Append(r.Context(), id, chunk)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeInternal(w, r, h.logger, "append chunk failed", err)
		return
	}

	switch outcome {
	case session.Continue:
		w.WriteHeader(http.StatusOK)
	case session.Done:
		writeText(w, http.StatusOK, id.String())
	default:
		writeNotFound(w)
	}
}

// Download 输出已完成上传的内容，支持 Range 请求。
func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeNotFound(w)
		return
	}

	content, err := h.uploads.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeInternal(w, r, h.logger, "open upload failed", err)
		return
	}
	defer content.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if seeker, ok := content.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, id.String(), *content.Record.Completed, seeker)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Body); err != nil {
		h.logger.Warn("stream upload interrupted", "id", id, "error", err)
	}
}

// Metadata 原样返回初始化时提交的元数据。
func (h *UploadHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeNotFound(w)
		return
	}

	meta, err := h.uploads.Metadata(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeInternal(w, r, h.logger, "load upload metadata failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(meta)
}

// parseID 解析路径中的 upload id。无法解析的 id 与未知 id 同样处理。
func parseID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
