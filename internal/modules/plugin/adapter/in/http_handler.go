package in

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/plugin/dto"
	pluginin "plughost/internal/modules/plugin/port/in"
	apperrors "plughost/internal/platform/errors"
)

const BasePath = "/api/v1/host"

// Envelope wraps every JSON response.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// InstallResponse answers an install request: either a final result or an
// approval the caller must resolve.
type InstallResponse struct {
	Result  dto.LifecycleResult  `json:"result"`
	Pending *dto.PendingApproval `json:"pending,omitempty"`
}

type permissionsBody struct {
	Permissions []string `json:"permissions"`
}

// HTTPHandler exposes the extension registry and the install lifecycle to
// the shell that renders plugin contributions.
type HTTPHandler struct {
	usecase pluginin.Usecase
	cli     CLIHandler
	logger  hclog.Logger
}

func NewHTTPHandler(usecase pluginin.Usecase, logger hclog.Logger) *HTTPHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPHandler{usecase: usecase, cli: NewCLIHandler(usecase), logger: logger.Named("host-http")}
}

func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Get("/catalog", h.catalog)
		r.Get("/scan", h.scan)
		r.Get("/installed", h.installed)
		r.Get("/loaded", h.loaded)
		r.Get("/styles", h.styles)
		r.Get("/slots", h.slots)
		r.Get("/slots/{slot}/components", h.components)
		r.Get("/slots/{slot}/actions", h.actions)
		r.Get("/resolve", h.resolve)
		r.Put("/session/user", h.setUser)

		r.Get("/pending", h.pending)
		r.Post("/pending/{approvalId}/approve", h.approve)
		r.Post("/pending/{approvalId}/deny", h.deny)

		r.Post("/plugins/{pluginId}/install", h.install)
		r.Post("/plugins/{pluginId}/enable", h.toggle(true))
		r.Post("/plugins/{pluginId}/disable", h.toggle(false))
		r.Delete("/plugins/{pluginId}", h.uninstall)
		r.Get("/plugins/{pluginId}/grants", h.grants)
		r.Post("/plugins/{pluginId}/grants", h.grant)
		r.Delete("/plugins/{pluginId}/grants", h.revoke)
	})
}

func (h *HTTPHandler) catalog(w http.ResponseWriter, _ *http.Request) {
	writeData(w, "success", h.usecase.Catalog())
}

// scan takes the plugin ids as repeated ?id= parameters.
func (h *HTTPHandler) scan(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "at least one id is required")
		return
	}
	writeData(w, "success", h.usecase.ScanAll(r.Context(), ids))
}

func (h *HTTPHandler) installed(w http.ResponseWriter, r *http.Request) {
	plugins, err := h.usecase.Installed(r.Context())
	if err != nil {
		h.fail(w, "list installed", err)
		return
	}
	writeData(w, "success", plugins)
}

func (h *HTTPHandler) loaded(w http.ResponseWriter, _ *http.Request) {
	writeData(w, "success", h.usecase.Loaded())
}

func (h *HTTPHandler) styles(w http.ResponseWriter, _ *http.Request) {
	writeData(w, "success", h.usecase.Styles())
}

func (h *HTTPHandler) slots(w http.ResponseWriter, _ *http.Request) {
	writeData(w, "success", h.cli.Slots())
}

func (h *HTTPHandler) components(w http.ResponseWriter, r *http.Request) {
	writeData(w, "success", h.usecase.Components(chi.URLParam(r, "slot")))
}

func (h *HTTPHandler) actions(w http.ResponseWriter, r *http.Request) {
	writeData(w, "success", h.usecase.Actions(chi.URLParam(r, "slot")))
}

func (h *HTTPHandler) resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeData(w, "success", h.usecase.ResolveURL(q.Get("base"), q.Get("rel")))
}

func (h *HTTPHandler) setUser(w http.ResponseWriter, r *http.Request) {
	var user map[string]any
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.usecase.SetUser(user)
	writeData(w, "user updated", nil)
}

func (h *HTTPHandler) pending(w http.ResponseWriter, _ *http.Request) {
	writeData(w, "success", h.usecase.Pending())
}

func (h *HTTPHandler) approve(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.usecase.Approve(r.Context(), chi.URLParam(r, "approvalId")))
}

func (h *HTTPHandler) deny(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.usecase.Deny(chi.URLParam(r, "approvalId")))
}

// install never blocks on a prompt: plugins that request permissions come
// back as a pending approval for a later approve or deny call.
func (h *HTTPHandler) install(w http.ResponseWriter, r *http.Request) {
	result, pending := h.usecase.BeginInstall(r.Context(), chi.URLParam(r, "pluginId"))
	if pending != nil {
		writeData(w, "awaiting approval", InstallResponse{Result: result, Pending: pending})
		return
	}
	writeData(w, result.Message, InstallResponse{Result: result})
}

func (h *HTTPHandler) toggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeResult(w, h.usecase.Toggle(r.Context(), chi.URLParam(r, "pluginId"), enabled))
	}
}

func (h *HTTPHandler) uninstall(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.usecase.Uninstall(r.Context(), chi.URLParam(r, "pluginId"), nil))
}

func (h *HTTPHandler) grants(w http.ResponseWriter, r *http.Request) {
	writeData(w, "success", h.usecase.Grants(chi.URLParam(r, "pluginId")))
}

func (h *HTTPHandler) grant(w http.ResponseWriter, r *http.Request) {
	var body permissionsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Permissions) == 0 {
		writeError(w, http.StatusBadRequest, "permissions are required")
		return
	}
	pluginID := chi.URLParam(r, "pluginId")
	if err := h.usecase.Grant(r.Context(), pluginID, body.Permissions); err != nil {
		h.fail(w, "grant", err)
		return
	}
	writeData(w, "permissions granted", h.usecase.Grants(pluginID))
}

// revoke drops the ?permission= values, or every grant when none are given.
func (h *HTTPHandler) revoke(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "pluginId")
	if err := h.usecase.Revoke(r.Context(), pluginID, r.URL.Query()["permission"]); err != nil {
		h.fail(w, "revoke", err)
		return
	}
	writeData(w, "permissions revoked", h.usecase.Grants(pluginID))
}

// writeResult reports lifecycle outcomes with status 200; Success in the
// payload tells the caller whether the operation took effect.
func (h *HTTPHandler) writeResult(w http.ResponseWriter, result dto.LifecycleResult) {
	if !result.Success {
		h.logger.Debug("lifecycle operation declined", "message", result.Message)
	}
	writeData(w, result.Message, result)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(op, "error", err)
	} else {
		h.logger.Debug(op, "error", err)
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
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
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Envelope{Code: code, Message: message})
}
