package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/infra/auth"
	"github.com/xela07ax/spaceai-scope-resolver/internal/resolver"
	"go.uber.org/zap"
)

// AdminScope разрешает резолв от имени другого пользователя (диагностика).
const AdminScope = "resolver.admin"

// Resolver — то, что handler-у нужно от движка.
type Resolver interface {
	Resolve(ctx context.Context, settings resolver.Settings, req resolver.Request) (*domain.ExecutionContext, error)
	Agents(ctx context.Context, settings resolver.Settings, userID string, hint domain.ScopeHint, activeGroupID string) ([]domain.Agent, []domain.Warning, error)
}

// SettingsSource отдает актуальный снимок настроек.
type SettingsSource interface {
	Load() resolver.Settings
}

type Handler struct {
	engine   Resolver
	settings SettingsSource
	logger   *zap.Logger
}

func NewHandler(engine Resolver, settings SettingsSource, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, settings: settings, logger: logger.Named("api")}
}

type resolveRequest struct {
	UserID        string           `json:"user_id,omitempty"`
	AgentName     string           `json:"agent_name,omitempty"`
	ScopeHint     domain.ScopeHint `json:"scope_hint,omitempty"`
	ActiveGroupID string           `json:"active_group_id,omitempty"`
}

type agentsResponse struct {
	Agents   []domain.Agent   `json:"agents"`
	Warnings []domain.Warning `json:"warnings"`
}

// Resolve собирает execution context для хода беседы.
// POST /v1/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidRequest, err))
		return
	}

	userID, err := h.subject(r, body.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ec, err := h.engine.Resolve(r.Context(), h.settings.Load(), resolver.Request{
		UserID:        userID,
		AgentName:     body.AgentName,
		ScopeHint:     hintOrDefault(body.ScopeHint),
		ActiveGroupID: body.ActiveGroupID,
		TraceID:       TraceID(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ec.View())
}

// Agents — агенты, видимые пользователю в сессии.
// GET /v1/agents?scope_hint=group&group_id=g-1
func (h *Handler) Agents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := h.subject(r, q.Get("user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	agents, warnings, err := h.engine.Agents(r.Context(), h.settings.Load(), userID,
		hintOrDefault(domain.ScopeHint(q.Get("scope_hint"))), q.Get("group_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []domain.Agent{}
	}
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	h.writeJSON(w, http.StatusOK, agentsResponse{Agents: agents, Warnings: warnings})
}

// subject — пользователь из токена. Явный user_id допустим только с admin scope.
func (h *Handler) subject(r *http.Request, requested string) (string, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("%w: no user in request context", ErrUnauthenticated)
	}
	if requested == "" || requested == p.UserID {
		return p.UserID, nil
	}
	if !p.HasScope(AdminScope) {
		return "", fmt.Errorf("%w: resolving on behalf of another user requires %s", ErrForbidden, AdminScope)
	}
	h.logger.Info("resolution on behalf of another user",
		zap.String("caller", p.UserID),
		zap.String("user_id", requested),
		zap.String("trace_id", TraceID(r.Context())))
	return requested, nil
}

func hintOrDefault(h domain.ScopeHint) domain.ScopeHint {
	if h == "" {
		return domain.HintNewConversation
	}
	return h
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("trace_id", TraceID(r.Context())), zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, status, errorBody{Error: errorKind(err), Message: err.Error(), TraceID: TraceID(r.Context())})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encoding error", zap.Error(err))
	}
}
