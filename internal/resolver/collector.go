package resolver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GroupAgents — агенты одной группы со scope-тегом этой группы.
type GroupAgents struct {
	Group  domain.Group
	Agents []domain.Agent
}

type GroupActions struct {
	Group   domain.Group
	Actions []domain.Action
}

// CollectedSet — сырые, еще не слитые манифесты пользователя.
// Группы идут по возрастанию id.
type CollectedSet struct {
	UserID          string
	Groups          []domain.Group
	Personal        []domain.Agent
	PersonalActions []domain.Action
	GroupAgents     []GroupAgents
	GroupActions    []GroupActions
	Warnings        []domain.Warning
}

// GlobalSet — глобальные манифесты организации.
type GlobalSet struct {
	Agents   []domain.Agent
	Actions  []domain.Action
	Warnings []domain.Warning
}

type Collector struct {
	store   ScopeStore
	members MembershipProvider
	limit   int // Сколько групп опрашиваем параллельно
	logger  *zap.Logger
}

func NewCollector(store ScopeStore, members MembershipProvider, fanOutLimit int, logger *zap.Logger) *Collector {
	if fanOutLimit <= 0 {
		fanOutLimit = 8
	}
	return &Collector{
		store:   store,
		members: members,
		limit:   fanOutLimit,
		logger:  logger.Named("collector"),
	}
}

// lookup — исход одного элемента fan-out: значение, NotFound (валидный терминальный исход) или ошибка.
type lookup[T any] struct {
	items    []T
	notFound bool
	err      error
}

func fetch[T any](ctx context.Context, fn func(context.Context) ([]T, error)) lookup[T] {
	items, err := fn(ctx)
	switch {
	case err == nil:
		return lookup[T]{items: items}
	case errors.Is(err, domain.ErrNotFound):
		return lookup[T]{notFound: true}
	default:
		return lookup[T]{err: err}
	}
}

type groupResult struct {
	agents  lookup[domain.Agent]
	actions lookup[domain.Action]
}

// Collect собирает персональные и групповые манифесты пользователя.
// Сбой membership не фатален (ноль групп), сбой группы изолирован в этой группе.
// Фатальны только сбой персонального хранилища и отмена контекста.
func (c *Collector) Collect(ctx context.Context, userID string) (CollectedSet, error) {
	set := CollectedSet{UserID: userID}

	groups, err := c.members.UserGroups(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return CollectedSet{}, ctx.Err()
		}
		c.logger.Warn("membership lookup failed, continuing with personal and global scopes",
			zap.String("user_id", userID), zap.Error(err))
		set.Warnings = append(set.Warnings, domain.Warning{
			Kind:    domain.WarnMembershipDegraded,
			Subject: userID,
			Message: "group memberships unavailable; resolved with personal and global scopes only",
		})
		groups = nil
	}
	set.Groups = normalizeGroups(groups)

	scope := domain.PersonalScope(userID)
	var personal lookup[domain.Agent]
	var personalActions lookup[domain.Action]
	results := make([]groupResult, len(set.Groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)

	g.Go(func() error {
		personal = fetch(gctx, func(ctx context.Context) ([]domain.Agent, error) { return c.store.PersonalAgents(ctx, userID) })
		return personal.err
	})
	g.Go(func() error {
		personalActions = fetch(gctx, func(ctx context.Context) ([]domain.Action, error) { return c.store.PersonalActions(ctx, userID) })
		return personalActions.err
	})
	for i, grp := range set.Groups {
		i, grp := i, grp
		g.Go(func() error {
			// Ошибки групп не возвращаем в errgroup: они не должны отменять соседей
			results[i] = groupResult{
				agents:  fetch(gctx, func(ctx context.Context) ([]domain.Agent, error) { return c.store.GroupAgents(ctx, grp.ID) }),
				actions: fetch(gctx, func(ctx context.Context) ([]domain.Action, error) { return c.store.GroupActions(ctx, grp.ID) }),
			}
			return nil
		})
	}

	// Join barrier
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return CollectedSet{}, ctx.Err()
		}
		return CollectedSet{}, fmt.Errorf("%w: personal scope of %s: %v", domain.ErrScopeStoreUnavailable, userID, err)
	}
	if ctx.Err() != nil {
		return CollectedSet{}, ctx.Err()
	}

	set.Personal, set.Warnings = stampAgents(personal.items, scope, set.Warnings)
	set.PersonalActions, set.Warnings = stampActions(personalActions.items, scope, set.Warnings)

	for i, grp := range set.Groups {
		res := results[i]
		gs := domain.GroupScope(grp.ID, grp.Name)

		if w, ok := c.groupOutcome(userID, grp, "agents", res.agents.notFound, res.agents.err); ok {
			set.Warnings = append(set.Warnings, w)
		} else {
			var agents []domain.Agent
			agents, set.Warnings = stampAgents(res.agents.items, gs, set.Warnings)
			set.GroupAgents = append(set.GroupAgents, GroupAgents{Group: grp, Agents: agents})
		}

		if w, ok := c.groupOutcome(userID, grp, "actions", res.actions.notFound, res.actions.err); ok {
			set.Warnings = append(set.Warnings, w)
		} else {
			var actions []domain.Action
			actions, set.Warnings = stampActions(res.actions.items, gs, set.Warnings)
			set.GroupActions = append(set.GroupActions, GroupActions{Group: grp, Actions: actions})
		}
	}

	return set, nil
}

// Global собирает глобальные манифесты. Сбой хранилища фатален.
func (c *Collector) Global(ctx context.Context) (GlobalSet, error) {
	agents, err := c.store.GlobalAgents(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		if ctx.Err() != nil {
			return GlobalSet{}, ctx.Err()
		}
		return GlobalSet{}, fmt.Errorf("%w: global agents: %v", domain.ErrScopeStoreUnavailable, err)
	}
	actions, err := c.store.GlobalActions(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		if ctx.Err() != nil {
			return GlobalSet{}, ctx.Err()
		}
		return GlobalSet{}, fmt.Errorf("%w: global actions: %v", domain.ErrScopeStoreUnavailable, err)
	}

	var set GlobalSet
	set.Agents, set.Warnings = stampAgents(agents, domain.GlobalScope(), nil)
	set.Actions, set.Warnings = stampActions(actions, domain.GlobalScope(), set.Warnings)
	return set, nil
}

func (c *Collector) groupOutcome(userID string, grp domain.Group, what string, notFound bool, err error) (domain.Warning, bool) {
	switch {
	case notFound:
		c.logger.Info("group vanished during resolution",
			zap.String("user_id", userID), zap.String("group_id", grp.ID), zap.String("lookup", what))
		return domain.Warning{
			Kind:    domain.WarnConcurrentDeletion,
			Subject: grp.ID,
			Message: fmt.Sprintf("group %s was deleted while its %s were being collected", grp.ID, what),
		}, true
	case err != nil:
		c.logger.Warn("group lookup failed",
			zap.String("user_id", userID), zap.String("group_id", grp.ID), zap.String("lookup", what), zap.Error(err))
		return domain.Warning{
			Kind:    domain.WarnGroupLookupFailed,
			Subject: grp.ID,
			Message: fmt.Sprintf("%s of group %s unavailable", what, grp.ID),
		}, true
	}
	return domain.Warning{}, false
}

// normalizeGroups убирает дубли и пустые id и сортирует по id: порядок групп детерминирован.
func normalizeGroups(groups []domain.Group) []domain.Group {
	out := make([]domain.Group, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.ID == "" || seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b domain.Group) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func stampAgents(in []domain.Agent, s domain.Scope, warnings []domain.Warning) ([]domain.Agent, []domain.Warning) {
	out := make([]domain.Agent, 0, len(in))
	for _, a := range in {
		a = a.WithScope(s)
		if err := a.Validate(); err != nil {
			warnings = append(warnings, domain.Warning{Kind: domain.WarnInvalidManifest, Subject: a.Name, Message: err.Error()})
			continue
		}
		out = append(out, a)
	}
	return out, warnings
}

func stampActions(in []domain.Action, s domain.Scope, warnings []domain.Warning) ([]domain.Action, []domain.Warning) {
	out := make([]domain.Action, 0, len(in))
	for _, a := range in {
		a = a.WithScope(s)
		if err := a.Validate(); err != nil {
			warnings = append(warnings, domain.Warning{Kind: domain.WarnInvalidManifest, Subject: a.Name, Message: err.Error()})
			continue
		}
		out = append(out, a)
	}
	return out, warnings
}
