package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

const metadataTooLargeMessage = "Metadata may not be larger than 4096 bytes"

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != "" {
		_, _ = w.Write([]byte(body))
	}
}

func writeNotFound(w http.ResponseWriter) {
	writeText(w, http.StatusNotFound, "upload not found")
}

// newRay 生成与日志关联的错误编号，客户端只能看到这个编号。
func newRay() string {
	return uuid.NewString()
}

// writeInternal 记录错误详情，对外只返回不透明的 ray。
func writeInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	ray := newRay()
	logger.Error(msg,
		"ray", ray,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeText(w, http.StatusInternalServerError, "Internal server error; ray="+ray)
}
