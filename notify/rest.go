package notify

import (
	"net/http"
	"strconv"

	"github.com/campushub/campushub/auth"
	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Handlers provides the read-state REST API. It is the durable path the
// client falls back to when the push channel is not open.
type Handlers struct {
	service     *Service
	tokens      *auth.TokenIssuer
	fetchWindow int
}

// NewHandlers creates the REST handlers.
func NewHandlers(service *Service, tokens *auth.TokenIssuer, fetchWindow int) *Handlers {
	if fetchWindow <= 0 {
		fetchWindow = DefaultFetchWindow
	}
	return &Handlers{service: service, tokens: tokens, fetchWindow: fetchWindow}
}

// RegisterRoutes mounts the notification API and the push channel on router.
func RegisterRoutes(router *mux.Router, sessions *auth.SessionMiddleware, h *Handlers, ws http.Handler) {
	api := router.PathPrefix("/api/notifications").Subrouter()
	api.HandleFunc("", sessions.RequireAuth(h.ListHandler)).Methods(http.MethodGet)
	api.HandleFunc("/unread-count", sessions.RequireAuth(h.UnreadCountHandler)).Methods(http.MethodGet)
	api.HandleFunc("/read-all", sessions.RequireAuth(h.MarkAllReadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/push-token", sessions.RequireAuth(h.PushTokenHandler)).Methods(http.MethodGet)
	api.HandleFunc("/{id}/read", sessions.RequireAuth(h.MarkReadHandler)).Methods(http.MethodPost)

	router.Handle("/ws", ws).Methods(http.MethodGet)
}

// ListHandler handles GET /api/notifications.
func (h *Handlers) ListHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid limit", err))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid offset", err))
		return
	}

	list, err := h.service.List(ctx, user.ID, ClampLimit(limit, h.fetchWindow), offset)
	if err != nil {
		types.WriteHTTPError(w, err)
		return
	}
	if list == nil {
		list = []types.Notification{}
	}

	unread, err := h.service.UnreadCount(ctx, user.ID)
	if err != nil {
		types.WriteHTTPError(w, err)
		return
	}

	types.WriteJSON(w, http.StatusOK, types.NotificationListResponse{
		Notifications: list,
		UnreadCount:   unread,
	})
}

// UnreadCountHandler handles GET /api/notifications/unread-count.
func (h *Handlers) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())

	count, err := h.service.UnreadCount(r.Context(), user.ID)
	if err != nil {
		types.WriteHTTPError(w, err)
		return
	}
	types.WriteJSON(w, http.StatusOK, types.UnreadCountResponse{Count: count})
}

// MarkReadHandler handles POST /api/notifications/{id}/read.
func (h *Handlers) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid notification ID", err))
		return
	}

	if err := h.service.MarkRead(r.Context(), user.ID, id); err != nil {
		types.WriteHTTPError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllReadHandler handles POST /api/notifications/read-all.
func (h *Handlers) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())

	updated, err := h.service.MarkAllRead(r.Context(), user.ID)
	if err != nil {
		types.WriteHTTPError(w, err)
		return
	}

	log.Debug().
		Str("user_id", user.ID.String()).
		Int64("updated", updated).
		Msg("Marked all notifications read")

	types.WriteJSON(w, http.StatusOK, types.MarkAllReadResponse{Updated: updated})
}

// PushTokenHandler handles GET /api/notifications/push-token.
func (h *Handlers) PushTokenHandler(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())

	if h.tokens == nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusNotFound, "Push tokens are not enabled", nil))
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID)
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusInternalServerError, "Failed to issue push token", err))
		return
	}
	types.WriteJSON(w, http.StatusOK, types.PushTokenResponse{Token: token, ExpiresAt: expiresAt})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
