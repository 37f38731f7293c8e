package resolver

import (
	"fmt"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// EffectiveSet — упорядоченный набор без дублей имен: personal, затем группы по id, затем global.
type EffectiveSet struct {
	Agents    []domain.Agent
	Actions   []domain.Action
	Conflicts []domain.Conflict

	// AllAgents — все агенты в порядке вставки, включая проигравших коллизию.
	// Из них Selector строит набор, видимый из конкретной сессии.
	AllAgents []domain.Agent

	// AllActions — все actions в порядке вставки. Нужны ActionsFor.
	AllActions []domain.Action

	// Bootstrap — global подмешан только потому, что personal+group пусты
	// при выключенном merge_global_enabled.
	Bootstrap bool
}

// Merge сливает собранные манифесты. При коллизии имени побеждает первый вставленный,
// что дает personal > group > global по построению.
func Merge(collected CollectedSet, global GlobalSet, mergeGlobalEnabled bool) EffectiveSet {
	var set EffectiveSet
	agents := newDedup[domain.Agent](func(a domain.Agent) (string, domain.Scope) { return a.Name, a.Scope })
	actions := newDedup[domain.Action](func(a domain.Action) (string, domain.Scope) { return a.Name, a.Scope })

	agents.add(collected.Personal...)
	actions.add(collected.PersonalActions...)
	for _, g := range collected.GroupAgents {
		agents.add(g.Agents...)
	}
	for _, g := range collected.GroupActions {
		actions.add(g.Actions...)
	}

	includeGlobal := mergeGlobalEnabled
	if !mergeGlobalEnabled && len(agents.items) == 0 {
		includeGlobal = len(global.Agents) > 0
		set.Bootstrap = includeGlobal
	}
	if includeGlobal {
		agents.add(global.Agents...)
		actions.add(global.Actions...)
	}

	set.Agents = agents.items
	set.AllAgents = agents.all
	set.Actions = actions.items
	set.AllActions = actions.all
	set.Conflicts = append(agents.conflicts("agent"), actions.conflicts("action")...)
	return set
}

// ActionsFor — actions, на которые разрешаются ссылки агента. Одноименный action
// из скоупа самого агента перекрывает победителя слияния: групповой агент получает
// action своей группы, даже если у пользователя есть личный с тем же именем.
// Имен, которых нет в скоупе агента, это не касается: для них действует Actions.
func (s EffectiveSet) ActionsFor(agent domain.Agent) []domain.Action {
	scope := agent.Scope.String()
	own := make(map[string]domain.Action)
	for _, a := range s.AllActions {
		if a.Scope.String() != scope {
			continue
		}
		if _, ok := own[a.Name]; !ok {
			own[a.Name] = a
		}
	}
	if len(own) == 0 {
		return s.Actions
	}

	out := make([]domain.Action, len(s.Actions))
	for i, a := range s.Actions {
		if o, ok := own[a.Name]; ok {
			a = o
		}
		out[i] = a
	}
	return out
}

// Warnings — нефатальные заметки слияния для execution context.
func (s EffectiveSet) Warnings() []domain.Warning {
	out := make([]domain.Warning, 0, len(s.Conflicts)+1)
	for _, c := range s.Conflicts {
		out = append(out, domain.Warning{
			Kind:    domain.WarnMergeConflict,
			Subject: c.Name,
			Message: fmt.Sprintf("%s %q from %s shadowed by %s", c.Entity, c.Name, c.Dropped, c.Kept),
		})
	}
	if s.Bootstrap {
		out = append(out, domain.Warning{
			Kind:    domain.WarnGlobalBootstrap,
			Subject: "global",
			Message: "no personal or group agents; global agents exposed as bootstrap fallback",
		})
	}
	return out
}

type dedup[T any] struct {
	key   func(T) (string, domain.Scope)
	index map[string]domain.Scope
	items []T
	all   []T
	drops []domain.Conflict
}

func newDedup[T any](key func(T) (string, domain.Scope)) *dedup[T] {
	return &dedup[T]{key: key, index: make(map[string]domain.Scope)}
}

func (d *dedup[T]) add(items ...T) {
	for _, it := range items {
		name, scope := d.key(it)
		d.all = append(d.all, it)
		if kept, ok := d.index[name]; ok {
			d.drops = append(d.drops, domain.Conflict{Name: name, Kept: kept, Dropped: scope})
			continue
		}
		d.index[name] = scope
		d.items = append(d.items, it)
	}
}

func (d *dedup[T]) conflicts(entity string) []domain.Conflict {
	out := make([]domain.Conflict, len(d.drops))
	for i, c := range d.drops {
		c.Entity = entity
		out[i] = c
	}
	return out
}
