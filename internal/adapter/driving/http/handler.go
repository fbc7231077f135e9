package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Wyydra/tandem/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	Relay *service.RelayService
	Hub   *ws.Hub

	upgrader  websocket.Upgrader
	staticDir string
}

type Options struct {
	// AllowedOrigins restricts websocket upgrades. Empty allows every origin.
	AllowedOrigins []string
	// StaticDir, when set, is served at the root.
	StaticDir string
}

func NewHandler(relay *service.RelayService, hub *ws.Hub, opts Options) *Handler {
	return &Handler{
		Relay: relay,
		Hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
		staticDir: opts.StaticDir,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/rooms/{roomID}", h.room)
	r.Get("/ws", h.ServeWS)

	if h.staticDir != "" {
		fs := http.FileServer(http.Dir(h.staticDir))
		r.Handle("/*", fs)
	}

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.Hub.Len(),
	})
}

func (h *Handler) room(w http.ResponseWriter, r *http.Request) {
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	room, err := h.Relay.Room(r.Context(), roomID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to read room")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read room"})
		return
	}
	if len(room.Members) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}

	members := make([]string, 0, len(room.Members))
	for _, id := range room.Members {
		members = append(members, id.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      room.ID.String(),
		"members": members,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}
