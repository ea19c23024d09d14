package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Recovery перехватывает panic в handler, пишет stack trace и отвечает 500.
// Сервер продолжает обрабатывать следующие запросы.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic в handler",
						zap.String("path", r.URL.Path),
						zap.String("panic", fmt.Sprint(err)),
						zap.Stack("stack"))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
