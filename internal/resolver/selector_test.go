package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// Scenario: 1 personal, 1 group agent, 2 global, merge on.
func scenarioSet() EffectiveSet {
	c := collected([]string{"writer"}, map[string][]string{"g1": {"analyst"}})
	return Merge(c, global("helper", "translator"), true)
}

func TestSelect_GroupAgentByExactName(t *testing.T) {
	set := scenarioSet()
	require.Len(t, set.Agents, 4)

	a, err := Select(set, "analyst", domain.HintNewConversation, "")
	require.NoError(t, err)
	assert.True(t, a.Scope.IsGroup())
	assert.Equal(t, "g1", a.Scope.GroupID())
}

func TestSelect_PersonalHintHidesGroupAgents(t *testing.T) {
	c := collected([]string{"writer"}, map[string][]string{"g1": {"analyst", "helper"}})
	set := Merge(c, global("helper"), true)

	visible := Visible(set, domain.HintPersonal, "")
	assert.Equal(t, []string{"writer", "helper"}, agentNames(visible))
	for _, a := range visible {
		assert.False(t, a.Scope.IsGroup())
	}

	_, err := Select(set, "analyst", domain.HintPersonal, "")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	// Одноименный групповой агент не виден: берется global
	a, err := Select(set, "helper", domain.HintPersonal, "")
	require.NoError(t, err)
	assert.True(t, a.Scope.IsGlobal())
}

func TestSelect_GroupHintOnlyActiveGroup(t *testing.T) {
	c := collected([]string{"shared"}, map[string][]string{
		"g1": {"g1-bot"},
		"g2": {"g2-bot", "shared"},
	})
	set := Merge(c, global("helper"), true)

	assert.Equal(t, []string{"g2-bot", "shared", "helper"}, agentNames(Visible(set, domain.HintGroup, "g2")))

	_, err := Select(set, "g1-bot", domain.HintGroup, "g2")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	// Групповой "shared" проиграл коллизию personal, но в сессии группы он доступен
	a, err := Select(set, "shared", domain.HintGroup, "g2")
	require.NoError(t, err)
	assert.Equal(t, "g2", a.Scope.GroupID())

	_, err = Select(set, "", domain.HintGroup, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSelect_PrefersSessionScope(t *testing.T) {
	c := collected([]string{"helper"}, nil)
	set := Merge(c, global("helper"), true)

	a, err := Select(set, "helper", domain.HintPersonal, "")
	require.NoError(t, err)
	assert.True(t, a.Scope.IsPersonal())
}

func TestSelect_UnmatchedNameNeverSubstitutes(t *testing.T) {
	set := scenarioSet()

	a, err := Select(set, "does-not-exist", domain.HintNewConversation, "")
	require.ErrorIs(t, err, domain.ErrAgentNotFound)
	assert.Empty(t, a.Name)

	_, err = Select(set, "Writer", domain.HintNewConversation, "")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound, "match is case-sensitive")
}

func TestSelect_DefaultFollowsPrecedence(t *testing.T) {
	set := scenarioSet()

	a, err := Select(set, "", domain.HintNewConversation, "")
	require.NoError(t, err)
	assert.Equal(t, "writer", a.Name)

	a, err = Select(set, "", domain.HintGroup, "g1")
	require.NoError(t, err)
	assert.Equal(t, "analyst", a.Name)

	_, err = Select(EffectiveSet{}, "", domain.HintPersonal, "")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestSelect_ReturnsCopy(t *testing.T) {
	c := collected([]string{"writer"}, nil)
	c.Personal[0].ReferencedActions = []string{"search"}
	set := Merge(c, GlobalSet{}, true)

	a, err := Select(set, "writer", domain.HintPersonal, "")
	require.NoError(t, err)
	a.ReferencedActions[0] = "mutated"

	assert.Equal(t, "search", set.Agents[0].ReferencedActions[0])
}
