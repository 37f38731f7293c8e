package domain

import (
	"fmt"
	"slices"
)

type AgentType string

const (
	AgentNative AgentType = "native" // Исполняется нашим inference runtime
	AgentHosted AgentType = "hosted" // Делегирует исполнение внешнему agent-hosting сервису
)

// Agent — именованная конфигурация поведения ассистента.
// Имя уникально внутри (scope, owner|group); глобальные имена уникальны во всем global-наборе.
type Agent struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Scope       Scope     `json:"scope"`
	Type        AgentType `json:"agent_type"`

	// Только для hosted-агентов
	HostedAgentID string `json:"agent_id,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`

	// Упорядоченный набор имен actions (без дублей)
	ReferencedActions []string `json:"referenced_actions"`

	Instructions string         `json:"instructions,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// WithScope возвращает копию агента с проставленным тегом видимости.
func (a Agent) WithScope(s Scope) Agent {
	c := a.Clone()
	c.Scope = s
	return c
}

// Clone — глубокая копия срезов и карт, чтобы снимки не делили память с хранилищем.
func (a Agent) Clone() Agent {
	a.ReferencedActions = dedupeNames(a.ReferencedActions)
	if a.Metadata != nil {
		m := make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			m[k] = v
		}
		a.Metadata = m
	}
	return a
}

// IsHosted сообщает, что агент исполняется во внешнем agent-hosting сервисе.
func (a Agent) IsHosted() bool { return a.Type == AgentHosted }

// Validate проверяет инварианты манифеста после проставления scope.
func (a Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent: name is required")
	}
	if err := a.Scope.Kind().Validate(); err != nil {
		return fmt.Errorf("agent %q: %w", a.Name, err)
	}
	switch a.Scope.Kind() {
	case ScopePersonal:
		if a.Scope.OwnerID() == "" {
			return fmt.Errorf("agent %q: personal agent without owner", a.Name)
		}
	case ScopeGroup:
		if a.Scope.GroupID() == "" {
			return fmt.Errorf("agent %q: group agent without group id", a.Name)
		}
	}
	switch a.Type {
	case AgentNative, "":
	case AgentHosted:
		if a.HostedAgentID == "" {
			return fmt.Errorf("agent %q: hosted agent without external agent id", a.Name)
		}
	default:
		return fmt.Errorf("agent %q: unknown agent type %q", a.Name, a.Type)
	}
	return nil
}

func dedupeNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}
