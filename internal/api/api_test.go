package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/infra/auth"
	"github.com/xela07ax/spaceai-scope-resolver/internal/resolver"
	"go.uber.org/zap"
)

type fakeEngine struct {
	lastReq  resolver.Request
	lastHint domain.ScopeHint
	lastUser string
	err      error
}

func (f *fakeEngine) Resolve(_ context.Context, _ resolver.Settings, req resolver.Request) (*domain.ExecutionContext, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewExecutionContext(domain.ExecutionContextParams{
		ResolutionID: "r-1",
		UserID:       req.UserID,
		ScopeHint:    req.ScopeHint,
		Agent:        domain.Agent{Name: "helper", Scope: domain.PersonalScope(req.UserID)},
		Endpoints: []domain.ResolvedEndpoint{{
			Environment:  domain.EnvPublic,
			ResourceKind: domain.ResourceCognitiveScope,
			URL:          "https://cognitiveservices.azure.com/.default",
			Credential:   domain.Credential{AuthMode: domain.AuthModeAPIKey, APIKey: "super-secret"},
		}},
		CreatedAt: time.Unix(0, 0),
	}), nil
}

func (f *fakeEngine) Agents(_ context.Context, _ resolver.Settings, userID string, hint domain.ScopeHint, _ string) ([]domain.Agent, []domain.Warning, error) {
	f.lastUser, f.lastHint = userID, hint
	if f.err != nil {
		return nil, nil, f.err
	}
	return []domain.Agent{{Name: "default", Scope: domain.GlobalScope()}}, nil, nil
}

type staticSettings struct{}

func (staticSettings) Load() resolver.Settings { return resolver.DefaultSettings() }

// fakeAuth выдает пользователя из заголовка X-Test-User (и admin scope из X-Test-Admin).
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Test-User")
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		p := auth.Principal{UserID: user, Scopes: map[string]bool{AdminScope: r.Header.Get("X-Test-Admin") != ""}}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func newTestRouter(eng *fakeEngine) http.Handler {
	return NewRouter(ServerDeps{
		Handler: NewHandler(eng, staticSettings{}, zap.NewNop()),
		Auth:    fakeAuth,
	}, zap.NewNop())
}

func doRequest(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResolve_OK(t *testing.T) {
	eng := &fakeEngine{}
	rec := doRequest(newTestRouter(eng), http.MethodPost, "/v1/resolve",
		`{"agent_name":"helper","scope_hint":"personal"}`,
		map[string]string{"X-Test-User": "alice", TraceHeader: "trace-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-1", rec.Header().Get(TraceHeader))
	assert.Equal(t, resolver.Request{UserID: "alice", AgentName: "helper", ScopeHint: domain.HintPersonal, TraceID: "trace-1"}, eng.lastReq)

	assert.NotContains(t, rec.Body.String(), "super-secret")

	var view domain.ExecutionContextView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "r-1", view.ResolutionID)
	assert.Equal(t, "helper", view.Agent.Name)
	require.Len(t, view.Endpoints, 1)
}

func TestResolve_DefaultsHintAndGeneratesTrace(t *testing.T) {
	eng := &fakeEngine{}
	rec := doRequest(newTestRouter(eng), http.MethodPost, "/v1/resolve", "", map[string]string{"X-Test-User": "alice"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.HintNewConversation, eng.lastReq.ScopeHint)
	assert.NotEmpty(t, rec.Header().Get(TraceHeader))
	assert.Equal(t, rec.Header().Get(TraceHeader), eng.lastReq.TraceID)
}

func TestResolve_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"agent not found", domain.NewResolutionError(domain.KindAgentNotFound, "select", domain.ErrAgentNotFound), http.StatusNotFound, "agent_not_found"},
		{"credentials", domain.NewResolutionError(domain.KindCredential, "credentials", domain.ErrCredentialResolution), http.StatusBadGateway, "credential_resolution"},
		{"timeout", domain.NewResolutionError(domain.KindResolutionTimeout, "collect", domain.ErrResolutionTimeout), http.StatusGatewayTimeout, "resolution_timeout"},
		{"store", domain.NewResolutionError(domain.KindScopeStore, "collect", errors.New("conn refused")), http.StatusServiceUnavailable, "scope_store"},
		{"cancelled", domain.NewResolutionError(domain.KindResolutionCancelled, "build", context.Canceled), StatusClientClosedRequest, "cancelled"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(newTestRouter(&fakeEngine{err: tc.err}), http.MethodPost, "/v1/resolve", "{}",
				map[string]string{"X-Test-User": "alice"})

			assert.Equal(t, tc.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body.Error)
			assert.NotEmpty(t, body.TraceID)
		})
	}
}

func TestResolve_BadBody(t *testing.T) {
	eng := &fakeEngine{}
	rec := doRequest(newTestRouter(eng), http.MethodPost, "/v1/resolve", `{"agent":"typo"}`, map[string]string{"X-Test-User": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, eng.lastReq.UserID)
}

func TestResolve_OnBehalfRequiresAdmin(t *testing.T) {
	eng := &fakeEngine{}
	router := newTestRouter(eng)

	rec := doRequest(router, http.MethodPost, "/v1/resolve", `{"user_id":"bob"}`, map[string]string{"X-Test-User": "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"forbidden"`)
	assert.Empty(t, eng.lastReq.UserID, "engine must not be called")

	rec = doRequest(router, http.MethodGet, "/v1/agents?user_id=bob", "", map[string]string{"X-Test-User": "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(router, http.MethodPost, "/v1/resolve", `{"user_id":"bob"}`,
		map[string]string{"X-Test-User": "alice", "X-Test-Admin": "1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", eng.lastReq.UserID)
}

func TestResolve_Unauthenticated(t *testing.T) {
	rec := doRequest(newTestRouter(&fakeEngine{}), http.MethodPost, "/v1/resolve", "{}", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgents(t *testing.T) {
	eng := &fakeEngine{}
	rec := doRequest(newTestRouter(eng), http.MethodGet, "/v1/agents?scope_hint=group&group_id=g-1", "",
		map[string]string{"X-Test-User": "alice"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", eng.lastUser)
	assert.Equal(t, domain.HintGroup, eng.lastHint)

	var body agentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "default", body.Agents[0].Name)
	assert.NotNil(t, body.Warnings)
}

func TestHealth(t *testing.T) {
	healthy := NewRouter(ServerDeps{
		Handler: NewHandler(&fakeEngine{}, staticSettings{}, zap.NewNop()),
		Health:  map[string]Pinger{"db": PingFunc(func(context.Context) error { return nil })},
	}, zap.NewNop())
	assert.Equal(t, http.StatusOK, doRequest(healthy, http.MethodGet, "/health", "", nil).Code)

	sick := NewRouter(ServerDeps{
		Handler: NewHandler(&fakeEngine{}, staticSettings{}, zap.NewNop()),
		Health:  map[string]Pinger{"db": PingFunc(func(context.Context) error { return errors.New("down") })},
	}, zap.NewNop())
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(sick, http.MethodGet, "/health", "", nil).Code)
}

func TestMapHTTPStatus_WrappedSentinels(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, MapHTTPStatus(fmt.Errorf("x: %w", domain.ErrInvalidRequest)))
	assert.Equal(t, http.StatusGatewayTimeout, MapHTTPStatus(fmt.Errorf("x: %w", domain.ErrEndpointRegistrationTimeout)))
	assert.Equal(t, http.StatusNotFound, MapHTTPStatus(domain.ErrAgentNotFound))
	assert.Equal(t, http.StatusForbidden, MapHTTPStatus(fmt.Errorf("x: %w", ErrForbidden)))
	assert.Equal(t, http.StatusUnauthorized, MapHTTPStatus(ErrUnauthenticated))
}
