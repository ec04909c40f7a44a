// Package middlewarectx содержит HTTP middleware сервиса.
package middlewarectx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"github.com/perfumeclub/subscription-bot/internal/http/response"
)

// RateLimitMiddleware ограничивает частоту запросов ко входящим ручкам.
// Лимитер общий на процесс: сервис обслуживает один вебхук и служебные
// ручки, пер-клиентская гранулярность не нужна.
func RateLimitMiddleware(log *slog.Logger, limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Error("too many requests", slog.String("path", r.URL.Path))
				w.WriteHeader(http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
