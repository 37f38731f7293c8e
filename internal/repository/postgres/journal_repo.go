package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-scope-resolver/internal/journal"
)

// JournalRepo — Sink журнала резолвов: пачка пишется одним COPY.
type JournalRepo struct {
	pool *pgxpool.Pool
}

func NewJournalRepo(pool *pgxpool.Pool) *JournalRepo {
	return &JournalRepo{pool: pool}
}

var journalColumns = []string{
	"id", "trace_id", "user_id", "scope_hint", "group_id", "requested_agent",
	"selected_agent", "agent_scope", "actions", "warnings", "outcome", "error",
	"duration_ms", "created_at",
}

func (r *JournalRepo) WriteBatch(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		warnings, err := json.Marshal(e.Warnings)
		if err != nil {
			return fmt.Errorf("postgres: encode warnings of %s: %w", e.ID, err)
		}
		rows = append(rows, []any{
			e.ID, e.TraceID, e.UserID, string(e.ScopeHint), e.GroupID, e.RequestedAgent,
			e.SelectedAgent, e.AgentScope, e.Actions, warnings, e.Outcome, e.Error,
			e.DurationMs, e.Timestamp,
		})
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"resolution_journal"}, journalColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: write journal batch: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("postgres: journal batch: wrote %d of %d rows", n, len(rows))
	}
	return nil
}
