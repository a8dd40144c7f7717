package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"chunkdrop/internal/config"
)

// OwnerContextKey 是存储在 context 中的调用方标识的键。
type OwnerContextKey struct{}

// Authenticator 按 AUTH_MODE 构造鉴权中间件。返回的 stop 用于释放后台资源（JWKS 刷新）。
func Authenticator(cfg config.AuthConfig, logger *slog.Logger) (mw func(http.Handler) http.Handler, stop func(), err error) {
	switch cfg.Mode {
	case config.AuthModeNone, "":
		return passthrough, func() {}, nil
	case config.AuthModeAPIKey:
		return APIKeyAuth(cfg.APIKeys), func() {}, nil
	case config.AuthModeJWT:
		verifier, err := NewJWTVerifier(cfg.JWTSecret, cfg.JWTJWKSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return JWTAuth(verifier), verifier.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// APIKeyAuth 创建 API Key 鉴权中间件。
// 期望请求头格式：Authorization: ApiKey <token>
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	keySet := make(map[string]struct{}, len(validKeys))
	for _, key := range validKeys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			keySet[trimmed] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := credential(w, r, "ApiKey")
			if !ok {
				return
			}

			if _, valid := keySet[apiKey]; !valid {
				writeAuthError(w, "ApiKey", "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, keyOwner(apiKey))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID 从 context 中获取经过鉴权的调用方标识。
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(OwnerContextKey{}).(string); ok {
		return v
	}
	return ""
}

// credential 解析 "<scheme> <token>" 格式的 Authorization 头，失败时已写出 401。
func credential(w http.ResponseWriter, r *http.Request, scheme string) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeAuthError(w, scheme, "missing Authorization header")
		return "", false
	}

	prefix := scheme + " "
	if !strings.HasPrefix(authHeader, prefix) {
		writeAuthError(w, scheme, fmt.Sprintf("invalid Authorization format, expected: %s <token>", scheme))
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if token == "" {
		writeAuthError(w, scheme, "empty credential")
		return "", false
	}
	return token, true
}

// keyOwner 只保留 key 的前缀，避免把完整凭证写进日志。
func keyOwner(apiKey string) string {
	if len(apiKey) <= 6 {
		return "apikey:" + apiKey[:1] + "***"
	}
	return "apikey:" + apiKey[:6] + "***"
}

func writeAuthError(w http.ResponseWriter, scheme, message string) {
	w.Header().Set("WWW-Authenticate", scheme+` realm="chunkdrop"`)
	http.Error(w, message, http.StatusUnauthorized)
}

func passthrough(next http.Handler) http.Handler {
	return next
}
