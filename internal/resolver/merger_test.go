package resolver

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

func collected(personal []string, groups map[string][]string) CollectedSet {
	set := CollectedSet{UserID: "u1"}
	for _, n := range personal {
		set.Personal = append(set.Personal, agent(n).WithScope(domain.PersonalScope("u1")))
		set.PersonalActions = append(set.PersonalActions, action("act-"+n).WithScope(domain.PersonalScope("u1")))
	}
	var ids []string
	for id := range groups {
		ids = append(ids, id)
	}
	set.Groups = normalizeGroups(groupsOf(ids))
	for _, g := range set.Groups {
		ga := GroupAgents{Group: g}
		for _, n := range groups[g.ID] {
			ga.Agents = append(ga.Agents, agent(n).WithScope(domain.GroupScope(g.ID, g.Name)))
		}
		set.GroupAgents = append(set.GroupAgents, ga)
	}
	return set
}

func groupsOf(ids []string) []domain.Group {
	out := make([]domain.Group, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Group{ID: id, Name: "group " + id})
	}
	return out
}

func global(names ...string) GlobalSet {
	var set GlobalSet
	for _, n := range names {
		set.Agents = append(set.Agents, agent(n).WithScope(domain.GlobalScope()))
		set.Actions = append(set.Actions, action("act-"+n).WithScope(domain.GlobalScope()))
	}
	return set
}

func TestMerge_PrecedenceAndOrder(t *testing.T) {
	c := collected([]string{"writer", "shared"}, map[string][]string{
		"g2": {"shared", "ops"},
		"g1": {"ops", "research"},
	})

	set := Merge(c, global("shared", "helper"), true)

	assert.Equal(t, []string{"writer", "shared", "ops", "research", "helper"}, agentNames(set.Agents))
	assert.True(t, set.Agents[1].Scope.IsPersonal(), "personal wins over group and global")
	assert.Equal(t, "g1", set.Agents[2].Scope.GroupID(), "lower group id wins")
	assert.False(t, set.Bootstrap)

	byEntity := map[string][]domain.Conflict{}
	for _, cf := range set.Conflicts {
		byEntity[cf.Entity] = append(byEntity[cf.Entity], cf)
	}
	require.Len(t, set.Conflicts, 4)
	assert.Len(t, byEntity["agent"], 3)

	// Личный act-shared перекрывает глобальный
	require.Len(t, byEntity["action"], 1)
	cf := byEntity["action"][0]
	assert.Equal(t, "act-shared", cf.Name)
	assert.True(t, cf.Kept.IsPersonal())
	assert.True(t, cf.Dropped.IsGlobal())

	assert.Len(t, set.AllAgents, 8)
}

func TestEffectiveSet_ActionsFor(t *testing.T) {
	c := collected([]string{"search"}, map[string][]string{"g1": nil})
	c.GroupActions = []GroupActions{{
		Group:   c.Groups[0],
		Actions: []domain.Action{action("act-search").WithScope(domain.GroupScope("g1", "group g1"))},
	}}
	set := Merge(c, global("helper"), true)
	require.True(t, set.Actions[0].Scope.IsPersonal(), "merged set keeps personal precedence")

	groupAgent := agent("ops", "act-search", "act-helper").WithScope(domain.GroupScope("g1", "group g1"))
	bound := set.ActionsFor(groupAgent)
	assert.Equal(t, actionNames(set.Actions), actionNames(bound))
	assert.True(t, bound[0].Scope.IsGroup())
	assert.True(t, bound[1].Scope.IsGlobal())
	assert.True(t, set.Actions[0].Scope.IsPersonal(), "Actions is not modified")

	personalAgent := agent("search", "act-search").WithScope(domain.PersonalScope("u1"))
	assert.True(t, set.ActionsFor(personalAgent)[0].Scope.IsPersonal())
}

func TestMerge_GlobalDisabled(t *testing.T) {
	c := collected([]string{"writer"}, nil)

	set := Merge(c, global("helper"), false)
	assert.Equal(t, []string{"writer"}, agentNames(set.Agents))
	assert.Equal(t, []string{"act-writer"}, actionNames(set.Actions))
	assert.False(t, set.Bootstrap)
	assert.Empty(t, set.Warnings())
}

func TestMerge_BootstrapFallback(t *testing.T) {
	for _, mergeGlobal := range []bool{true, false} {
		t.Run(fmt.Sprintf("merge_global=%v", mergeGlobal), func(t *testing.T) {
			set := Merge(collected(nil, map[string][]string{"g1": nil}), global("helper", "translator"), mergeGlobal)

			assert.Equal(t, []string{"helper", "translator"}, agentNames(set.Agents))
			assert.Equal(t, []string{"act-helper", "act-translator"}, actionNames(set.Actions))
			assert.Equal(t, !mergeGlobal, set.Bootstrap)
		})
	}

	set := Merge(collected(nil, nil), global("helper"), false)
	assert.Equal(t, []domain.WarningKind{domain.WarnGlobalBootstrap}, warningKinds(set.Warnings()))
}

func TestMerge_BootstrapNotTriggeredByGroupAgents(t *testing.T) {
	set := Merge(collected(nil, map[string][]string{"g1": {"ops"}}), global("helper"), false)
	assert.Equal(t, []string{"ops"}, agentNames(set.Agents))
	assert.False(t, set.Bootstrap)
}

// Для любого набора: эффективный набор = personal ∪ groups ∪ global с приоритетом personal > group > global.
func TestMerge_UnionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pool := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	pick := func() []string {
		var out []string
		for _, n := range pool {
			if rng.Intn(3) == 0 {
				out = append(out, n)
			}
		}
		return out
	}

	for i := 0; i < 200; i++ {
		personal := pick()
		groups := map[string][]string{}
		for g := 0; g < rng.Intn(4); g++ {
			groups[fmt.Sprintf("g%d", g)] = pick()
		}
		globals := pick()

		set := Merge(collected(personal, groups), global(globals...), true)

		expected := map[string]domain.ScopeKind{}
		for _, n := range globals {
			expected[n] = domain.ScopeGlobal
		}
		for _, names := range groups {
			for _, n := range names {
				expected[n] = domain.ScopeGroup
			}
		}
		for _, n := range personal {
			expected[n] = domain.ScopePersonal
		}

		got := map[string]domain.ScopeKind{}
		for _, a := range set.Agents {
			_, dup := got[a.Name]
			require.False(t, dup, "duplicate name %q", a.Name)
			got[a.Name] = a.Scope.Kind()
		}
		require.Equal(t, expected, got, "iteration %d", i)
	}
}
