package postgres

/*
Файл scope_repo.go — Scope Store и Membership Provider поверх PostgreSQL.
Резолв только читает: записи помечаются удаленными (deleted_at), и запись,
исчезнувшая между сбором и сборкой контекста, отдается как domain.ErrNotFound.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

type ScopeRepo struct {
	pool *pgxpool.Pool
}

func NewScopeRepo(pool *pgxpool.Pool) *ScopeRepo {
	return &ScopeRepo{pool: pool}
}

const agentColumns = `name, display_name, description, agent_type, hosted_agent_id, api_version,
	referenced_actions, instructions, metadata`

const actionColumns = `name, display_name, action_type, auth_requirements, secret_ref, endpoint, resource_kind`

func (r *ScopeRepo) PersonalAgents(ctx context.Context, userID string) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE scope = 'personal' AND owner_id = $1 AND deleted_at IS NULL
		ORDER BY name`
	return r.queryAgents(ctx, query, userID)
}

func (r *ScopeRepo) PersonalActions(ctx context.Context, userID string) ([]domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions
		WHERE scope = 'personal' AND owner_id = $1 AND deleted_at IS NULL
		ORDER BY name`
	return r.queryActions(ctx, query, userID)
}

func (r *ScopeRepo) GroupAgents(ctx context.Context, groupID string) ([]domain.Agent, error) {
	if err := r.groupExists(ctx, groupID); err != nil {
		return nil, err
	}
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE scope = 'group' AND group_id = $1 AND deleted_at IS NULL
		ORDER BY name`
	return r.queryAgents(ctx, query, groupID)
}

func (r *ScopeRepo) GroupActions(ctx context.Context, groupID string) ([]domain.Action, error) {
	if err := r.groupExists(ctx, groupID); err != nil {
		return nil, err
	}
	query := `SELECT ` + actionColumns + ` FROM actions
		WHERE scope = 'group' AND group_id = $1 AND deleted_at IS NULL
		ORDER BY name`
	return r.queryActions(ctx, query, groupID)
}

func (r *ScopeRepo) GlobalAgents(ctx context.Context) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE scope = 'global' AND deleted_at IS NULL
		ORDER BY name`
	return r.queryAgents(ctx, query)
}

func (r *ScopeRepo) GlobalActions(ctx context.Context) ([]domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions
		WHERE scope = 'global' AND deleted_at IS NULL
		ORDER BY name`
	return r.queryActions(ctx, query)
}

// ActionExists — повторная проверка action перед сборкой контекста.
func (r *ScopeRepo) ActionExists(ctx context.Context, a domain.Action) error {
	query := `SELECT 1 FROM actions
		WHERE name = $1 AND scope = $2
		  AND COALESCE(owner_id, '') = $3 AND COALESCE(group_id, '') = $4
		  AND deleted_at IS NULL`

	var one int
	err := r.pool.QueryRow(ctx, query, a.Name, string(a.Scope.Kind()), a.Scope.OwnerID(), a.Scope.GroupID()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: check action %s: %w", a.Name, err)
	}
	return nil
}

// UserGroups — Membership Provider: группы пользователя.
func (r *ScopeRepo) UserGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	query := `SELECT g.id, g.name FROM group_members m
		JOIN groups g ON g.id = m.group_id AND g.deleted_at IS NULL
		WHERE m.user_id = $1
		ORDER BY g.id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: user groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Group, error) {
		var g domain.Group
		err := row.Scan(&g.ID, &g.Name)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: user groups: %w", err)
	}
	return groups, nil
}

// Ping проверяет доступность базы (health check).
func (r *ScopeRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *ScopeRepo) groupExists(ctx context.Context, groupID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1 AND deleted_at IS NULL)`, groupID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check group %s: %w", groupID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ScopeRepo) queryAgents(ctx context.Context, query string, args ...any) ([]domain.Agent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query agents: %w", err)
	}
	agents, err := pgx.CollectRows(rows, scanAgent)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan agents: %w", err)
	}
	return agents, nil
}

func (r *ScopeRepo) queryActions(ctx context.Context, query string, args ...any) ([]domain.Action, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query actions: %w", err)
	}
	actions, err := pgx.CollectRows(rows, scanAction)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan actions: %w", err)
	}
	return actions, nil
}

// Scope-тег здесь не ставится: его проставляет Collector.
func scanAgent(row pgx.CollectableRow) (domain.Agent, error) {
	var (
		a            domain.Agent
		description  *string
		hostedID     *string
		apiVersion   *string
		instructions *string
		metadata     []byte
	)
	err := row.Scan(&a.Name, &a.DisplayName, &description, &a.Type, &hostedID, &apiVersion,
		&a.ReferencedActions, &instructions, &metadata)
	if err != nil {
		return domain.Agent{}, err
	}
	a.Description = deref(description)
	a.HostedAgentID = deref(hostedID)
	a.APIVersion = deref(apiVersion)
	a.Instructions = deref(instructions)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return domain.Agent{}, fmt.Errorf("agent %s metadata: %w", a.Name, err)
		}
	}
	return a, nil
}

func scanAction(row pgx.CollectableRow) (domain.Action, error) {
	var (
		a            domain.Action
		displayName  *string
		actionType   *string
		secretRef    *string
		endpoint     *string
		resourceKind *string
	)
	err := row.Scan(&a.Name, &displayName, &actionType, &a.Auth, &secretRef, &endpoint, &resourceKind)
	if err != nil {
		return domain.Action{}, err
	}
	a.DisplayName = deref(displayName)
	a.Type = deref(actionType)
	a.SecretRef = deref(secretRef)
	a.Endpoint = deref(endpoint)
	a.ResourceKind = domain.ResourceKind(deref(resourceKind))
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
