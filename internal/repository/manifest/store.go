package manifest

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync/atomic"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// snapshot — индексированное, неизменяемое содержимое файла.
type snapshot struct {
	groups          map[string]domain.Group
	members         map[string][]domain.Group // user_id -> группы
	personal        map[string][]domain.Agent
	personalActions map[string][]domain.Action
	groupAgents     map[string][]domain.Agent
	groupActions    map[string][]domain.Action
	global          []domain.Agent
	globalActions   []domain.Action
	actions         map[string]bool // scope|name
}

// Store — Scope Store + Membership Provider поверх YAML-файла.
// Перечитывание подменяет снимок целиком; запрос в полете видит старый.
type Store struct {
	path string
	snap atomic.Pointer[snapshot]
}

// Open читает файл и строит снимок.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromFile строит store из уже разобранного манифеста (тесты, CLI).
func FromFile(f *File) (*Store, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.snap.Store(index(f))
	return s, nil
}

// Reload перечитывает файл. Невалидный файл отклоняется, активным остается прежний снимок.
func (s *Store) Reload() error {
	fh, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("manifest: open %s: %w", s.path, err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return err
	}
	s.snap.Store(index(f))
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) PersonalAgents(_ context.Context, userID string) ([]domain.Agent, error) {
	return cloneAgents(s.snap.Load().personal[userID]), nil
}

func (s *Store) PersonalActions(_ context.Context, userID string) ([]domain.Action, error) {
	return slices.Clone(s.snap.Load().personalActions[userID]), nil
}

func (s *Store) GroupAgents(_ context.Context, groupID string) ([]domain.Agent, error) {
	snap := s.snap.Load()
	if _, ok := snap.groups[groupID]; !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAgents(snap.groupAgents[groupID]), nil
}

func (s *Store) GroupActions(_ context.Context, groupID string) ([]domain.Action, error) {
	snap := s.snap.Load()
	if _, ok := snap.groups[groupID]; !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(snap.groupActions[groupID]), nil
}

func (s *Store) GlobalAgents(context.Context) ([]domain.Agent, error) {
	return cloneAgents(s.snap.Load().global), nil
}

func (s *Store) GlobalActions(context.Context) ([]domain.Action, error) {
	return slices.Clone(s.snap.Load().globalActions), nil
}

// ActionExists сверяется с актуальным снимком: action, убранный из файла
// после сбора, считается удаленным.
func (s *Store) ActionExists(_ context.Context, a domain.Action) error {
	if !s.snap.Load().actions[a.Scope.String()+"|"+a.Name] {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UserGroups(_ context.Context, userID string) ([]domain.Group, error) {
	return slices.Clone(s.snap.Load().members[userID]), nil
}

// Counts — размеры снимка (для CLI).
func (s *Store) Counts() (groups, agents, actions int) {
	snap := s.snap.Load()
	for _, v := range snap.personal {
		agents += len(v)
	}
	for _, v := range snap.groupAgents {
		agents += len(v)
	}
	return len(snap.groups), agents + len(snap.global), len(snap.actions)
}

func index(f *File) *snapshot {
	snap := &snapshot{
		groups:          make(map[string]domain.Group),
		members:         make(map[string][]domain.Group),
		personal:        make(map[string][]domain.Agent),
		personalActions: make(map[string][]domain.Action),
		groupAgents:     make(map[string][]domain.Agent),
		groupActions:    make(map[string][]domain.Action),
		actions:         make(map[string]bool),
	}
	names := groupNames(f.Groups)

	for _, g := range f.Groups {
		grp := domain.Group{ID: g.ID, Name: g.Name}
		snap.groups[g.ID] = grp
		for _, u := range g.Members {
			snap.members[u] = append(snap.members[u], grp)
		}
	}

	// Validate уже отработал: ошибок преобразования здесь нет
	for _, d := range f.Agents {
		a, _ := d.toDomain(names)
		switch a.Scope.Kind() {
		case domain.ScopePersonal:
			snap.personal[a.Scope.OwnerID()] = append(snap.personal[a.Scope.OwnerID()], a)
		case domain.ScopeGroup:
			snap.groupAgents[a.Scope.GroupID()] = append(snap.groupAgents[a.Scope.GroupID()], a)
		case domain.ScopeGlobal:
			snap.global = append(snap.global, a)
		}
	}
	for _, d := range f.Actions {
		a, _ := d.toDomain(names)
		snap.actions[a.Scope.String()+"|"+a.Name] = true
		switch a.Scope.Kind() {
		case domain.ScopePersonal:
			snap.personalActions[a.Scope.OwnerID()] = append(snap.personalActions[a.Scope.OwnerID()], a)
		case domain.ScopeGroup:
			snap.groupActions[a.Scope.GroupID()] = append(snap.groupActions[a.Scope.GroupID()], a)
		case domain.ScopeGlobal:
			snap.globalActions = append(snap.globalActions, a)
		}
	}
	return snap
}

func cloneAgents(in []domain.Agent) []domain.Agent {
	if in == nil {
		return nil
	}
	out := make([]domain.Agent, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}
