package journal

import (
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// Entry — запись об одном вызове resolve_execution_context.
// Секреты и токены сюда не попадают: только имена и исходы.
type Entry struct {
	ID             string           `json:"id"`       // resolution id
	TraceID        string           `json:"trace_id"` // Сквозной ID HTTP-запроса
	UserID         string           `json:"user_id"`
	ScopeHint      domain.ScopeHint `json:"scope_hint"`
	GroupID        string           `json:"group_id,omitempty"`
	RequestedAgent string           `json:"requested_agent,omitempty"`

	// Результат
	SelectedAgent string           `json:"selected_agent,omitempty"`
	AgentScope    string           `json:"agent_scope,omitempty"`
	Actions       []string         `json:"actions"`
	Warnings      []domain.Warning `json:"warnings"`
	Outcome       string           `json:"outcome"` // ok или domain.ErrorKind
	Error         string           `json:"error,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
