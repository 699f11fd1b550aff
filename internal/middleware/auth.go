package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/yk970217-wq/cleanbear/pkg/errors"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
)

// AuthConfig 认证配置
type AuthConfig struct {
	Keys      []string // 为空时不校验
	SkipPaths []string // 跳过认证的路径前缀
}

// APIKeyAuth 校验 X-API-Key 或 Bearer 令牌
func APIKeyAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(cfg.Keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range cfg.SkipPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			apiKey := ExtractAPIKey(r)
			if apiKey == "" {
				WriteError(w, errors.New(errors.CodeUnauthorized, "API密钥未提供"))
				return
			}
			if !validKey(cfg.Keys, apiKey) {
				logger.WithContext(r.Context()).Warn().Str("path", r.URL.Path).Msg("API密钥验证失败")
				WriteError(w, errors.New(errors.CodeUnauthorized, "无效的API密钥"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ExtractAPIKey 从请求中提取API密钥
func ExtractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func validKey(keys []string, candidate string) bool {
	ok := 0
	for _, k := range keys {
		ok |= subtle.ConstantTimeCompare([]byte(k), []byte(candidate))
	}
	return ok == 1
}
