package in

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/registry/dto"
	registryin "plughost/internal/modules/registry/port/in"
	apperrors "plughost/internal/platform/errors"
)

const (
	BasePath = "/api/v1/plugins"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type contextKey string

const userContextKey contextKey = "user"

// Envelope wraps every JSON response.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Handler struct {
	uc       registryin.Usecase
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(uc registryin.Usecase, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		uc:     uc,
		logger: logger.Named("registry-http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the registry API under BasePath.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/installed", h.listInstalled)
		r.Get("/enabled", h.listEnabled)
		r.Post("/install", h.install)
		r.Get("/events", h.events)
		r.Delete("/{pluginId}", h.uninstall)
		r.Put("/{pluginId}/status", h.updateStatus)
		r.Get("/{pluginId}/permissions", h.getPermissions)
		r.Put("/{pluginId}/permissions", h.updatePermissions)
	})
}

// authenticate accepts "Authorization: Bearer user:<id>". The events feed
// also takes ?token=user:<id> since browsers cannot set headers on upgrades.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		userID, ok := UserFromToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromToken extracts the user id from a "user:<id>" token.
func UserFromToken(token string) (string, bool) {
	userID, ok := strings.CutPrefix(strings.TrimSpace(token), "user:")
	userID = strings.TrimSpace(userID)
	return userID, ok && userID != ""
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userContextKey).(string)
	return userID
}

func (h *Handler) listInstalled(w http.ResponseWriter, r *http.Request) {
	records, err := h.uc.ListInstalled(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, "list installed", err)
		return
	}
	writeData(w, "success", records)
}

func (h *Handler) listEnabled(w http.ResponseWriter, r *http.Request) {
	ids, err := h.uc.ListEnabled(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, "list enabled", err)
		return
	}
	writeData(w, "success", ids)
}

func (h *Handler) install(w http.ResponseWriter, r *http.Request) {
	var input dto.InstallInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input.UserID = userFrom(r)
	record, err := h.uc.Install(r.Context(), input)
	if err != nil {
		h.fail(w, "install", err)
		return
	}
	writeData(w, "installed", record)
}

func (h *Handler) uninstall(w http.ResponseWriter, r *http.Request) {
	if err := h.uc.Uninstall(r.Context(), userFrom(r), chi.URLParam(r, "pluginId")); err != nil {
		h.fail(w, "uninstall", err)
		return
	}
	writeData(w, "uninstalled", nil)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var input dto.UpdateStatusInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input.UserID = userFrom(r)
	input.PluginID = chi.URLParam(r, "pluginId")
	if err := h.uc.UpdateStatus(r.Context(), input); err != nil {
		h.fail(w, "update status", err)
		return
	}
	writeData(w, "status updated", nil)
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.uc.GetPermissions(r.Context(), userFrom(r), chi.URLParam(r, "pluginId"))
	if err != nil {
		h.fail(w, "get permissions", err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	writeData(w, "success", perms)
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	var input dto.UpdatePermissionsInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input.UserID = userFrom(r)
	input.PluginID = chi.URLParam(r, "pluginId")
	if err := h.uc.UpdatePermissions(r.Context(), input); err != nil {
		h.fail(w, "update permissions", err)
		return
	}
	writeData(w, "permissions updated", nil)
}

// events streams the user's registry events as JSON text frames over a
// websocket until either side goes away. The subscription is taken before the
// upgrade completes so nothing published after the handshake is missed.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, err := h.uc.Subscribe(ctx, userID)
	if err != nil {
		h.fail(w, "subscribe", err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed", "user", userID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(op, "error", err)
	} else {
		h.logger.Debug(op, "error", err)
	}
	writeError(w, code, err.Error())
}

// StatusFor maps platform error sentinels onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeData(w http.ResponseWriter, message string, data any) {
	env := Envelope{Code: http.StatusOK, Message: message}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
		env.Data = raw
	}
	writeEnvelope(w, http.StatusOK, env)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeEnvelope(w, code, Envelope{Code: code, Message: message})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
