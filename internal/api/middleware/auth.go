package middleware

import (
	"net/http"
	"strings"

	"alphawave/pkg/crypto"
)

// TokenAuth закрывает API статуса токеном доступа.
//
// Токен передаётся заголовком "Authorization: Bearer <token>" или, для
// WebSocket из браузера, параметром ?token=. В конфигурации хранится только
// bcrypt-хеш. Пустой хеш отключает проверку.
func TokenAuth(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// preflight CORS идёт без токена
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !crypto.VerifyToken(requestToken(r), hash) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="alphawave"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
