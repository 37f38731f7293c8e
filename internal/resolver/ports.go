package resolver

import (
	"context"

	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// MembershipProvider отдает группы пользователя.
type MembershipProvider interface {
	UserGroups(ctx context.Context, userID string) ([]domain.Group, error)
}

// ScopeStore — хранилище манифестов агентов и actions по scope.
// Резолв только читает снимки и никогда их не меняет.
// Исчезнувшая группа или запись возвращается как domain.ErrNotFound.
type ScopeStore interface {
	PersonalAgents(ctx context.Context, userID string) ([]domain.Agent, error)
	PersonalActions(ctx context.Context, userID string) ([]domain.Action, error)
	GroupAgents(ctx context.Context, groupID string) ([]domain.Agent, error)
	GroupActions(ctx context.Context, groupID string) ([]domain.Action, error)
	GlobalAgents(ctx context.Context) ([]domain.Agent, error)
	GlobalActions(ctx context.Context) ([]domain.Action, error)
}

// ActionChecker — необязательная возможность хранилища: проверить, что action
// еще существует на момент сборки контекста. nil — запись есть, domain.ErrNotFound — удалена.
type ActionChecker interface {
	ActionExists(ctx context.Context, action domain.Action) error
}

// CredentialResolver — Credential/Endpoint Resolver для набора ресурсов.
type CredentialResolver interface {
	ResolveBundle(ctx context.Context, cloud credentials.CloudSettings, required, optional []domain.ResourceKind) ([]domain.ResolvedEndpoint, error)
}
