// Package health отвечает на проверки живости сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/perfumeclub/subscription-bot/internal/http/response"
	"github.com/perfumeclub/subscription-bot/internal/lib/sl"
)

// Pinger проверяет доступность базы данных.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler обработчик проверки здоровья.
type Handler struct {
	log *slog.Logger
	db  Pinger
}

// New создает новый Handler.
func New(log *slog.Logger, db Pinger) *Handler {
	return &Handler{
		log: log,
		db:  db,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	if err := h.db.PingContext(r.Context()); err != nil {
		h.log.Error("database ping failed", slog.String("op", op), sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("database unavailable"))
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"status": "ok",
	}))
}
