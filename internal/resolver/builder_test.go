package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"go.uber.org/zap"
)

func miBundle(kinds ...domain.ResourceKind) []domain.ResolvedEndpoint {
	var out []domain.ResolvedEndpoint
	for _, k := range kinds {
		out = append(out, domain.ResolvedEndpoint{
			ResourceKind: k,
			Credential:   domain.Credential{AuthMode: domain.AuthModeManagedIdentity, Token: "tok"},
		})
	}
	return out
}

func TestBuilder_FiltersToReferencedActions(t *testing.T) {
	b := NewBuilder(credentials.StaticSecrets{}, nil, zap.NewNop())

	ec, err := b.Build(context.Background(), BuildInput{
		ResolutionID: "r1",
		UserID:       "u1",
		ScopeHint:    domain.HintPersonal,
		Agent:        agent("writer", "search", "missing", "calendar"),
		Actions:      []domain.Action{action("calendar"), action("search"), action("unrelated")},
		Warnings:     []domain.Warning{{Kind: domain.WarnMembershipDegraded, Subject: "u1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"search", "calendar"}, ec.ActionNames())
	assert.Equal(t, []domain.WarningKind{domain.WarnMembershipDegraded, domain.WarnActionUnresolvable}, warningKinds(ec.Warnings()))
	assert.Equal(t, "missing", ec.Warnings()[1].Subject)
	assert.Equal(t, "writer", ec.Agent().Name)
	assert.False(t, ec.CreatedAt().IsZero())
}

func TestBuilder_ActionDeletedBeforeBuild(t *testing.T) {
	store := newFakeStore()
	store.deleted["jira"] = true
	b := NewBuilder(credentials.StaticSecrets{}, store, zap.NewNop())

	ec, err := b.Build(context.Background(), BuildInput{
		Agent:   agent("writer", "jira", "search"),
		Actions: []domain.Action{action("jira"), action("search")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"search"}, ec.ActionNames())
	require.Len(t, ec.Warnings(), 1)
	assert.Equal(t, domain.WarnConcurrentDeletion, ec.Warnings()[0].Kind)
	assert.Equal(t, "jira", ec.Warnings()[0].Subject)
}

func TestBuilder_SecretRefActions(t *testing.T) {
	b := NewBuilder(credentials.StaticSecrets{"env://JIRA": "token-value"}, nil, zap.NewNop())

	jira := domain.Action{Name: "jira", Auth: domain.AuthSecretRef, SecretRef: "env://JIRA"}
	github := domain.Action{Name: "github", Auth: domain.AuthSecretRef, SecretRef: "env://GITHUB"}

	ec, err := b.Build(context.Background(), BuildInput{
		Agent:   agent("writer", "jira", "github"),
		Actions: []domain.Action{jira, github},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"jira"}, ec.ActionNames())
	assert.Equal(t, "env://JIRA", ec.Actions()[0].SecretRef)
	assert.Equal(t, []domain.WarningKind{domain.WarnActionUnresolvable}, warningKinds(ec.Warnings()))
	for _, w := range ec.Warnings() {
		assert.NotContains(t, w.Message, "token-value")
	}
}

func TestBuilder_ManagedIdentityActions(t *testing.T) {
	b := NewBuilder(credentials.StaticSecrets{}, nil, zap.NewNop())

	cache := domain.Action{Name: "cache", Auth: domain.AuthManagedIdentity, ResourceKind: domain.ResourceCacheInfra}
	anyMI := domain.Action{Name: "any", Auth: domain.AuthManagedIdentity}

	ec, err := b.Build(context.Background(), BuildInput{
		Agent:   agent("writer", "cache", "any"),
		Actions: []domain.Action{cache, anyMI},
		Bundle:  miBundle(domain.ResourceCognitiveScope),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"any"}, ec.ActionNames())

	ec, err = b.Build(context.Background(), BuildInput{
		Agent:   agent("writer", "cache", "any"),
		Actions: []domain.Action{cache, anyMI},
		Bundle:  miBundle(domain.ResourceCognitiveScope, domain.ResourceCacheInfra),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "any"}, ec.ActionNames())
	assert.Empty(t, ec.Warnings())
}

func TestBuilder_ContextIsImmutable(t *testing.T) {
	b := NewBuilder(credentials.StaticSecrets{}, nil, zap.NewNop())
	actions := []domain.Action{action("search")}

	ec, err := b.Build(context.Background(), BuildInput{
		Agent:     agent("writer", "search"),
		Actions:   actions,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	got := ec.Actions()
	got[0].Name = "mutated"
	agentCopy := ec.Agent()
	agentCopy.ReferencedActions[0] = "mutated"

	assert.Equal(t, []string{"search"}, ec.ActionNames())
	assert.Equal(t, []string{"search"}, ec.Agent().ReferencedActions)
	assert.Equal(t, 2026, ec.CreatedAt().Year())
}

func TestBuilder_CancelledContext(t *testing.T) {
	b := NewBuilder(credentials.StaticSecrets{}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, BuildInput{Agent: agent("writer", "search"), Actions: []domain.Action{action("search")}})
	assert.ErrorIs(t, err, context.Canceled)
}
