package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/example/livedispatch/internal/auth"
	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/hub"
	"github.com/example/livedispatch/internal/dispatch/link"
	"github.com/example/livedispatch/internal/dispatch/view"
	"github.com/example/livedispatch/internal/http/middleware"
)

// Config tunes the HTTP surface.
type Config struct {
	JWTSecret       string
	CORSOrigins     []string
	MagicLinkPerMin int
}

// HTTP exposes the dispatch tracking endpoints.
type HTTP struct {
	views   *view.Service
	links   *link.Service
	ws      *hub.WSHandler
	limiter *middleware.RateLimiter
	cfg     Config
}

// NewHTTP constructs a handler. ws and limiter may be nil; the matching
// routes degrade gracefully.
func NewHTTP(views *view.Service, links *link.Service, ws *hub.WSHandler, limiter *middleware.RateLimiter, cfg Config) *HTTP {
	return &HTTP{views: views, links: links, ws: ws, limiter: limiter, cfg: cfg}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Logger, chimiddleware.Recoverer)
	if len(h.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/dispatch", func(r chi.Router) {
		r.With(auth.Middleware(h.cfg.JWTSecret, "admin")).Post("/link", h.issueLink)
		r.With(h.limiter.Limit("magic-link", middleware.PerMinute(h.cfg.MagicLinkPerMin))).
			Post("/magic-link", h.requestMagicLink)
		r.Get("/{token}", h.getSummary)
		r.Get("/{token}/updates", h.getUpdates)
	})

	if h.ws != nil {
		r.Get("/ws/dispatch", h.ws.ServeDispatch)
		r.With(auth.Middleware(h.cfg.JWTSecret, "admin")).Get("/ws/admin", h.ws.ServeAdmin)
	}
	return r
}

type issueLinkRequest struct {
	BookingID string `json:"bookingId"`
	Email     string `json:"email"`
}

func (h *HTTP) issueLink(w http.ResponseWriter, r *http.Request) {
	var payload issueLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bookingID, err := uuid.Parse(payload.BookingID)
	if err != nil {
		http.Error(w, "invalid bookingId", http.StatusBadRequest)
		return
	}
	resp, err := h.links.IssueLink(r.Context(), bookingID, payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type magicLinkRequest struct {
	Email         string `json:"email"`
	BookingNumber string `json:"bookingNumber"`
}

func (h *HTTP) requestMagicLink(w http.ResponseWriter, r *http.Request) {
	var payload magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.links.RequestMagicLinkByEmail(r.Context(), payload.Email, payload.BookingNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTP) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.views.GetSummary(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTP) getUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.views.GetUpdates(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

// writeError maps domain errors onto the wire. Unauthorized is always the
// same generic body no matter which check failed.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"ok":      false,
			"message": domain.ErrUnauthorized.Error(),
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": err.Error()})
	case errors.Is(err, domain.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":      false,
			"message": "service temporarily unavailable",
		})
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
