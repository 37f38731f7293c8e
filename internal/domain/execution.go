package domain

import (
	"slices"
	"time"
)

// ScopeHint — откуда пришел запрос: новая беседа или сессия конкретного scope.
type ScopeHint string

const (
	HintNewConversation ScopeHint = "new_conversation"
	HintPersonal        ScopeHint = "personal"
	HintGroup           ScopeHint = "group"
)

func (h ScopeHint) Validate() error {
	switch h {
	case HintNewConversation, HintPersonal, HintGroup:
		return nil
	default:
		return ErrInvalidRequest
	}
}

// ExecutionContextParams — входные данные для сборки контекста.
type ExecutionContextParams struct {
	ResolutionID string
	UserID       string
	ScopeHint    ScopeHint
	GroupID      string
	Agent        Agent
	Actions      []Action
	Endpoints    []ResolvedEndpoint
	Warnings     []Warning
	CreatedAt    time.Time
}

// ExecutionContext — неизменяемый бандл агент + actions + credentials для inference runtime.
// Поля закрыты, геттеры отдают копии.
type ExecutionContext struct {
	resolutionID string
	userID       string
	scopeHint    ScopeHint
	groupID      string
	agent        Agent
	actions      []Action
	endpoints    []ResolvedEndpoint
	warnings     []Warning
	createdAt    time.Time
}

func NewExecutionContext(p ExecutionContextParams) *ExecutionContext {
	return &ExecutionContext{
		resolutionID: p.ResolutionID,
		userID:       p.UserID,
		scopeHint:    p.ScopeHint,
		groupID:      p.GroupID,
		agent:        p.Agent.Clone(),
		actions:      slices.Clone(p.Actions),
		endpoints:    slices.Clone(p.Endpoints),
		warnings:     slices.Clone(p.Warnings),
		createdAt:    p.CreatedAt,
	}
}

func (c *ExecutionContext) ResolutionID() string { return c.resolutionID }
func (c *ExecutionContext) UserID() string { return c.userID }
func (c *ExecutionContext) ScopeHint() ScopeHint { return c.scopeHint }
func (c *ExecutionContext) GroupID() string { return c.groupID }
func (c *ExecutionContext) CreatedAt() time.Time { return c.createdAt }
func (c *ExecutionContext) Agent() Agent { return c.agent.Clone() }
func (c *ExecutionContext) Actions() []Action { return slices.Clone(c.actions) }
func (c *ExecutionContext) Warnings() []Warning { return slices.Clone(c.warnings) }
func (c *ExecutionContext) Endpoints() []ResolvedEndpoint {
	return slices.Clone(c.endpoints)
}

// ActionNames — имена actions в порядке referenced_actions агента.
func (c *ExecutionContext) ActionNames() []string {
	names := make([]string, 0, len(c.actions))
	for _, a := range c.actions {
		names = append(names, a.Name)
	}
	return names
}

// Endpoint возвращает resolved endpoint для типа ресурса.
func (c *ExecutionContext) Endpoint(kind ResourceKind) (ResolvedEndpoint, bool) {
	for _, e := range c.endpoints {
		if e.ResourceKind == kind {
			return e, true
		}
	}
	return ResolvedEndpoint{}, false
}

// ExecutionContextView — JSON-проекция без секретов для HTTP-ответа.
type ExecutionContextView struct {
	ResolutionID string         `json:"resolution_id"`
	UserID       string         `json:"user_id"`
	ScopeHint    ScopeHint      `json:"scope_hint"`
	GroupID      string         `json:"group_id,omitempty"`
	Agent        Agent          `json:"agent"`
	Actions      []Action       `json:"actions"`
	Endpoints    []EndpointView `json:"endpoints"`
	Warnings     []Warning      `json:"warnings"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (c *ExecutionContext) View() ExecutionContextView {
	v := ExecutionContextView{
		ResolutionID: c.resolutionID,
		UserID:       c.userID,
		ScopeHint:    c.scopeHint,
		GroupID:      c.groupID,
		Agent:        c.Agent(),
		Actions:      c.Actions(),
		Endpoints:    make([]EndpointView, 0, len(c.endpoints)),
		Warnings:     c.Warnings(),
		CreatedAt:    c.createdAt,
	}
	for _, e := range c.endpoints {
		v.Endpoints = append(v.Endpoints, e.View())
	}
	if v.Actions == nil {
		v.Actions = []Action{}
	}
	if v.Warnings == nil {
		v.Warnings = []Warning{}
	}
	return v
}
