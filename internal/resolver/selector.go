package resolver

import (
	"fmt"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// Visible — агенты, видимые из сессии, в порядке приоритета слияния, без дублей имен.
//
//	new_conversation: все агенты
//	personal:         personal + global
//	group:            агенты активной группы + global
//
// Агент, проигравший коллизию невидимому из этой сессии агенту, здесь снова доступен:
// в групповой сессии одноименный personal-агент не прячет групповой.
func Visible(set EffectiveSet, hint domain.ScopeHint, activeGroupID string) []domain.Agent {
	pool := set.AllAgents
	if pool == nil {
		pool = set.Agents
	}

	out := make([]domain.Agent, 0, len(pool))
	seen := make(map[string]bool, len(pool))
	for _, a := range pool {
		if !visibleFrom(a.Scope, hint, activeGroupID) || seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, a)
	}
	return out
}

func visibleFrom(s domain.Scope, hint domain.ScopeHint, activeGroupID string) bool {
	switch hint {
	case domain.HintPersonal:
		return s.IsPersonal() || s.IsGlobal()
	case domain.HintGroup:
		return s.IsGlobal() || (s.IsGroup() && s.GroupID() == activeGroupID)
	default:
		return true
	}
}

// Select выбирает единственного активного агента. Явно запрошенное имя без видимого
// совпадения — ErrAgentNotFound; другой агент вместо запрошенного не подставляется.
func Select(set EffectiveSet, requested string, hint domain.ScopeHint, activeGroupID string) (domain.Agent, error) {
	if err := hint.Validate(); err != nil {
		return domain.Agent{}, fmt.Errorf("%w: unknown scope hint %q", domain.ErrInvalidRequest, hint)
	}
	if hint == domain.HintGroup && activeGroupID == "" {
		return domain.Agent{}, fmt.Errorf("%w: group session without active group id", domain.ErrInvalidRequest)
	}

	pool := set.AllAgents
	if pool == nil {
		pool = set.Agents
	}

	if requested == "" {
		candidates := Visible(set, hint, activeGroupID)
		if len(candidates) == 0 {
			return domain.Agent{}, fmt.Errorf("%w: no agents visible in %s session", domain.ErrAgentNotFound, hint)
		}
		return candidates[0].Clone(), nil
	}

	// Сначала scope самой сессии, затем любой видимый
	var fallback *domain.Agent
	for i := range pool {
		a := &pool[i]
		if a.Name != requested || !visibleFrom(a.Scope, hint, activeGroupID) {
			continue
		}
		if ownScope(a.Scope, hint) {
			return a.Clone(), nil
		}
		if fallback == nil {
			fallback = a
		}
	}
	if fallback != nil {
		return fallback.Clone(), nil
	}
	return domain.Agent{}, fmt.Errorf("%w: %q is not visible in %s session", domain.ErrAgentNotFound, requested, hint)
}

func ownScope(s domain.Scope, hint domain.ScopeHint) bool {
	switch hint {
	case domain.HintPersonal:
		return s.IsPersonal()
	case domain.HintGroup:
		return s.IsGroup()
	default:
		return false
	}
}
