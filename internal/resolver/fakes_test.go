package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

type fakeStore struct {
	mu              sync.Mutex
	personal        map[string][]domain.Agent
	personalActions map[string][]domain.Action
	groupAgents     map[string][]domain.Agent
	groupActions    map[string][]domain.Action
	global          []domain.Agent
	globalActions   []domain.Action

	// fail: "personal", "personal-actions", "group:<id>", "group-actions:<id>", "global", "global-actions"
	fail map[string]error
	// deleted — actions, удаленные после сбора (ActionExists вернет ErrNotFound)
	deleted map[string]bool
	// slow — группы, чьи запросы висят до отмены контекста
	slow map[string]bool

	groupCalls atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		personal:        map[string][]domain.Agent{},
		personalActions: map[string][]domain.Action{},
		groupAgents:     map[string][]domain.Agent{},
		groupActions:    map[string][]domain.Action{},
		fail:            map[string]error{},
		deleted:         map[string]bool{},
		slow:            map[string]bool{},
	}
}

func (s *fakeStore) err(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[key]
}

func (s *fakeStore) PersonalAgents(_ context.Context, userID string) ([]domain.Agent, error) {
	if err := s.err("personal"); err != nil {
		return nil, err
	}
	return s.personal[userID], nil
}

func (s *fakeStore) PersonalActions(_ context.Context, userID string) ([]domain.Action, error) {
	if err := s.err("personal-actions"); err != nil {
		return nil, err
	}
	return s.personalActions[userID], nil
}

func (s *fakeStore) GroupAgents(ctx context.Context, groupID string) ([]domain.Agent, error) {
	s.groupCalls.Add(1)
	if s.slow[groupID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.err("group:" + groupID); err != nil {
		return nil, err
	}
	return s.groupAgents[groupID], nil
}

func (s *fakeStore) GroupActions(ctx context.Context, groupID string) ([]domain.Action, error) {
	if s.slow[groupID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.err("group-actions:" + groupID); err != nil {
		return nil, err
	}
	return s.groupActions[groupID], nil
}

func (s *fakeStore) GlobalAgents(context.Context) ([]domain.Agent, error) {
	if err := s.err("global"); err != nil {
		return nil, err
	}
	return s.global, nil
}

func (s *fakeStore) GlobalActions(context.Context) ([]domain.Action, error) {
	if err := s.err("global-actions"); err != nil {
		return nil, err
	}
	return s.globalActions, nil
}

func (s *fakeStore) ActionExists(_ context.Context, a domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted[a.Name] {
		return domain.ErrNotFound
	}
	return nil
}

type fakeMembers struct {
	groups map[string][]domain.Group
	err    error
	calls  atomic.Int32
}

func (m *fakeMembers) UserGroups(_ context.Context, userID string) ([]domain.Group, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.groups[userID], nil
}

// fakeCreds отдает managed-identity credential на каждый запрошенный ресурс.
type fakeCreds struct {
	err   error
	delay time.Duration
	calls atomic.Int32

	mu       sync.Mutex
	required []domain.ResourceKind
	optional []domain.ResourceKind
}

func (f *fakeCreds) ResolveBundle(ctx context.Context, cloud credentials.CloudSettings, required, optional []domain.ResourceKind) ([]domain.ResolvedEndpoint, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.required, f.optional = required, optional
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	var out []domain.ResolvedEndpoint
	for _, k := range append(append([]domain.ResourceKind{}, required...), optional...) {
		out = append(out, domain.ResolvedEndpoint{
			Environment:  cloud.Environment,
			ResourceKind: k,
			URL:          "https://" + string(k) + ".example",
			Credential:   domain.Credential{AuthMode: domain.AuthModeManagedIdentity, Token: "tok", ExpiresAt: time.Now().Add(time.Hour)},
		})
	}
	return out, nil
}

func agent(name string, refs ...string) domain.Agent {
	return domain.Agent{Name: name, DisplayName: name, Type: domain.AgentNative, ReferencedActions: refs}
}

func action(name string) domain.Action {
	return domain.Action{Name: name, Auth: domain.AuthNone}
}

func agentNames(agents []domain.Agent) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Name)
	}
	return out
}

func actionNames(actions []domain.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Name)
	}
	return out
}

func warningKinds(ws []domain.Warning) []domain.WarningKind {
	out := make([]domain.WarningKind, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}
