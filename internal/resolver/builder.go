package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"go.uber.org/zap"
)

// BuildInput — все, из чего собирается execution context.
type BuildInput struct {
	ResolutionID string
	UserID       string
	ScopeHint    domain.ScopeHint
	GroupID      string
	Agent        domain.Agent
	Actions      []domain.Action // Эффективный набор actions
	Bundle       []domain.ResolvedEndpoint
	Warnings     []domain.Warning // Накопленные на предыдущих шагах
	CreatedAt    time.Time
}

// Builder фильтрует actions до ссылок агента и проверяет, что их авторизацию можно выполнить.
// Недоступный action отбрасывается с предупреждением, агент исполняется с урезанным набором.
type Builder struct {
	secrets credentials.SecretResolver
	checker ActionChecker // nil — без повторной проверки существования
	logger  *zap.Logger
}

func NewBuilder(secrets credentials.SecretResolver, checker ActionChecker, logger *zap.Logger) *Builder {
	if secrets == nil {
		secrets = credentials.EnvSecrets{}
	}
	return &Builder{secrets: secrets, checker: checker, logger: logger.Named("builder")}
}

// Build возвращает ошибку только при отмене контекста.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*domain.ExecutionContext, error) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}

	byName := make(map[string]domain.Action, len(in.Actions))
	for _, a := range in.Actions {
		if _, ok := byName[a.Name]; !ok {
			byName[a.Name] = a
		}
	}

	warnings := append([]domain.Warning(nil), in.Warnings...)
	actions := make([]domain.Action, 0, len(in.Agent.ReferencedActions))

	for _, name := range in.Agent.ReferencedActions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		action, ok := byName[name]
		if !ok {
			warnings = append(warnings, domain.Warning{
				Kind:    domain.WarnActionUnresolvable,
				Subject: name,
				Message: fmt.Sprintf("agent %q references action %q which is not visible in the merged set", in.Agent.Name, name),
			})
			continue
		}

		if w, drop := b.checkLiveness(ctx, action); drop {
			warnings = append(warnings, w)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if w, drop := b.checkAuth(ctx, action, in.Bundle); drop {
			warnings = append(warnings, w)
			continue
		}
		actions = append(actions, action)
	}

	return domain.NewExecutionContext(domain.ExecutionContextParams{
		ResolutionID: in.ResolutionID,
		UserID:       in.UserID,
		ScopeHint:    in.ScopeHint,
		GroupID:      in.GroupID,
		Agent:        in.Agent,
		Actions:      actions,
		Endpoints:    in.Bundle,
		Warnings:     warnings,
		CreatedAt:    in.CreatedAt,
	}), nil
}

// checkLiveness ловит запись, удаленную между сбором и сборкой контекста.
// Транзиентная ошибка проверки оставляет action: снимок сбора авторитетен.
func (b *Builder) checkLiveness(ctx context.Context, a domain.Action) (domain.Warning, bool) {
	if b.checker == nil {
		return domain.Warning{}, false
	}
	err := b.checker.ActionExists(ctx, a)
	switch {
	case err == nil:
		return domain.Warning{}, false
	case errors.Is(err, domain.ErrNotFound):
		b.logger.Info("action deleted during resolution", zap.String("action", a.Name), zap.String("scope", a.Scope.String()))
		return domain.Warning{
			Kind:    domain.WarnConcurrentDeletion,
			Subject: a.Name,
			Message: fmt.Sprintf("action %q was deleted before the context was built", a.Name),
		}, true
	default:
		if ctx.Err() == nil {
			b.logger.Warn("action liveness check failed, keeping collected snapshot",
				zap.String("action", a.Name), zap.Error(err))
		}
		return domain.Warning{}, false
	}
}

func (b *Builder) checkAuth(ctx context.Context, a domain.Action, bundle []domain.ResolvedEndpoint) (domain.Warning, bool) {
	switch a.Auth {
	case domain.AuthSecretRef:
		// Значение секрета не сохраняем: в контекст уходит только ссылка
		if _, err := b.secrets.Resolve(ctx, a.SecretRef); err != nil {
			b.logger.Warn("action secret unresolvable", zap.String("action", a.Name), zap.Error(err))
			return domain.Warning{
				Kind:    domain.WarnActionUnresolvable,
				Subject: a.Name,
				Message: fmt.Sprintf("secret for action %q cannot be resolved", a.Name),
			}, true
		}
	case domain.AuthManagedIdentity:
		if !hasManagedIdentity(bundle, a.ResourceKind) {
			target := "any resource"
			if a.ResourceKind != "" {
				target = string(a.ResourceKind)
			}
			return domain.Warning{
				Kind:    domain.WarnActionUnresolvable,
				Subject: a.Name,
				Message: fmt.Sprintf("action %q requires a managed-identity credential for %s", a.Name, target),
			}, true
		}
	}
	return domain.Warning{}, false
}

func hasManagedIdentity(bundle []domain.ResolvedEndpoint, kind domain.ResourceKind) bool {
	for _, ep := range bundle {
		if ep.Credential.AuthMode != domain.AuthModeManagedIdentity {
			continue
		}
		if kind == "" || ep.ResourceKind == kind {
			return true
		}
	}
	return false
}
