package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier 校验 Bearer token：HMAC 使用共享密钥，非对称算法使用 JWKS。
type JWTVerifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
}

// NewJWTVerifier 初始化校验器。jwksURL 非空时拉取 JWKS 并在后台定期刷新。
func NewJWTVerifier(secret, jwksURL string, logger *slog.Logger) (*JWTVerifier, error) {
	if secret == "" && jwksURL == "" {
		return nil, errors.New("jwt verifier needs a secret or a JWKS URL")
	}

	v := &JWTVerifier{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
	if secret != "" {
		v.secret = []byte(secret)
	}

	if jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Warn("jwks refresh failed", "url", jwksURL, "error", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks %s: %w", jwksURL, err)
		}
		v.jwks = jwks
		logger.Info("jwks initialized", "url", jwksURL)
	}

	return v, nil
}

func (v *JWTVerifier) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if v.secret == nil {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, fmt.Errorf("no key available for alg %s", token.Method.Alg())
	}
	return v.jwks.Keyfunc(token)
}

// Verify 校验 token 并返回 sub 声明。
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := v.parser.Parse(tokenString, v.keyFor)
	if err != nil {
		return "", err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// Close 停止 JWKS 后台刷新。
func (v *JWTVerifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// JWTAuth 创建 Bearer token 鉴权中间件，sub 声明作为调用方标识存入 context。
func JWTAuth(v *JWTVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := credential(w, r, "Bearer")
			if !ok {
				return
			}

			sub, err := v.Verify(tokenString)
			if err != nil {
				writeAuthError(w, "Bearer", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerContextKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
