package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chunkdrop/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// StreamHandler 在一条 WebSocket 连接上完成整个上传：
// 第一条消息是元数据，之后每条二进制消息是一个分块，空的二进制消息表示结束，
// 服务端随后以文本消息返回 id 并正常关闭连接。
type StreamHandler struct {
	sessions      Sessions
	logger        *slog.Logger
	maxChunkBytes int64
	upgrader      websocket.Upgrader
}

func NewStreamHandler(sessions Sessions, logger *slog.Logger, maxChunkBytes int64, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		sessions:      sessions,
		logger:        logger,
		maxChunkBytes: maxChunkBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// RegisterRoutes 注册到 /api/upload 子路由下。
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Serve)
}

func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写出了错误响应
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()

	conn.SetReadLimit(max(h.maxChunkBytes, session.MaxMetadataBytes+1))
	_, meta, err := conn.ReadMessage()
	if err != nil {
		return
	}
	conn.SetReadLimit(h.maxChunkBytes)

	id, err := h.sessions.Initiate(ctx, meta)
	if err != nil {
		if errors.Is(err, session.ErrMetadataTooLarge) {
			h.close(conn, websocket.ClosePolicyViolation, metadataTooLargeMessage)
			return
		}
		h.closeInternal(conn, r, "initiate upload failed", err)
		return
	}
	logger := h.logger.With("id", id)
	logger.Info("stream upload initiated", "meta_bytes", len(meta))

	for {
		kind, chunk, err := conn.ReadMessage()
		if err != nil {
			// 连接中断后会话交给空闲超时回收
			logger.Info("stream upload connection lost", "error", err)
			return
		}
		if kind != websocket.BinaryMessage {
			h.close(conn, websocket.CloseUnsupportedData, "chunks must be binary messages")
			return
		}

		outcome, err := h.sessions.Append(ctx, id, chunk)
		if err != nil {
			h.closeInternal(conn, r, "append chunk failed", err)
			return
		}

		switch outcome {
		case session.Continue:
		case session.Done:
			_ = conn.SetWriteDeadline(time.Now().Add(closeWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(id.String())); err != nil {
				logger.Warn("send upload id failed", "error", err)
				return
			}
			h.close(conn, websocket.CloseNormalClosure, "")
			return
		default:
			h.close(conn, websocket.ClosePolicyViolation, "upload not found")
			return
		}
	}
}

func (h *StreamHandler) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait)); err != nil {
		h.logger.Debug("write close frame failed", "error", err)
	}
}

func (h *StreamHandler) closeInternal(conn *websocket.Conn, r *http.Request, msg string, err error) {
	ray := newRay()
	h.logger.Error(msg, "ray", ray, "path", r.URL.Path, "error", err)
	h.close(conn, websocket.CloseInternalServerErr, "Internal server error; ray="+ray)
}

// originChecker 允许无 Origin 的非浏览器客户端、同源请求和 CORS 白名单中的来源。
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
