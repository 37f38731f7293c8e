package manifest

import (
	"errors"
	"fmt"
	"io"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"gopkg.in/yaml.v3"
)

// File — YAML-описание scope store для локального запуска и CLI.
type File struct {
	Groups  []GroupDoc  `yaml:"groups"`
	Agents  []AgentDoc  `yaml:"agents"`
	Actions []ActionDoc `yaml:"actions"`
}

type GroupDoc struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type AgentDoc struct {
	Name              string           `yaml:"name"`
	DisplayName       string           `yaml:"display_name"`
	Description       string           `yaml:"description"`
	Scope             domain.ScopeKind `yaml:"scope"`
	OwnerID           string           `yaml:"owner_id"`
	GroupID           string           `yaml:"group_id"`
	Type              domain.AgentType `yaml:"agent_type"`
	AgentID           string           `yaml:"agent_id"`
	APIVersion        string           `yaml:"api_version"`
	ReferencedActions []string         `yaml:"referenced_actions"`
	Instructions      string           `yaml:"instructions"`
	Metadata          map[string]any   `yaml:"metadata"`
}

type ActionDoc struct {
	Name         string                 `yaml:"name"`
	DisplayName  string                 `yaml:"display_name"`
	Type         string                 `yaml:"type"`
	Scope        domain.ScopeKind       `yaml:"scope"`
	OwnerID      string                 `yaml:"owner_id"`
	GroupID      string                 `yaml:"group_id"`
	Auth         domain.AuthRequirement `yaml:"auth_requirements"`
	SecretRef    string                 `yaml:"secret_ref"`
	Endpoint     string                 `yaml:"endpoint"`
	ResourceKind domain.ResourceKind    `yaml:"resource_kind"`
}

// Parse читает YAML и проверяет инварианты: известные scope, владелец или группа
// по scope, уникальность имени внутри (scope, owner|group).
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	var errs []error

	groups := make(map[string]bool, len(f.Groups))
	for _, g := range f.Groups {
		if g.ID == "" {
			errs = append(errs, errors.New("manifest: group without id"))
			continue
		}
		if groups[g.ID] {
			errs = append(errs, fmt.Errorf("manifest: duplicate group %q", g.ID))
		}
		groups[g.ID] = true
	}

	seen := make(map[string]bool)
	for _, a := range f.Agents {
		agent, err := a.toDomain(groupNames(f.Groups))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := agent.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("manifest: %w", err))
			continue
		}
		key := "agent|" + agent.Scope.String() + "|" + agent.Name
		if seen[key] {
			errs = append(errs, fmt.Errorf("manifest: duplicate agent %q in %s", agent.Name, agent.Scope))
		}
		seen[key] = true
	}

	for _, a := range f.Actions {
		action, err := a.toDomain(groupNames(f.Groups))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := action.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("manifest: %w", err))
			continue
		}
		key := "action|" + action.Scope.String() + "|" + action.Name
		if seen[key] {
			errs = append(errs, fmt.Errorf("manifest: duplicate action %q in %s", action.Name, action.Scope))
		}
		seen[key] = true
	}

	return errors.Join(errs...)
}

func groupNames(groups []GroupDoc) map[string]string {
	out := make(map[string]string, len(groups))
	for _, g := range groups {
		out[g.ID] = g.Name
	}
	return out
}

func scopeOf(kind domain.ScopeKind, ownerID, groupID string, groups map[string]string) (domain.Scope, error) {
	switch kind {
	case domain.ScopePersonal:
		return domain.PersonalScope(ownerID), nil
	case domain.ScopeGroup:
		name, ok := groups[groupID]
		if !ok {
			return domain.Scope{}, fmt.Errorf("unknown group %q", groupID)
		}
		return domain.GroupScope(groupID, name), nil
	case domain.ScopeGlobal:
		return domain.GlobalScope(), nil
	default:
		return domain.Scope{}, kind.Validate()
	}
}

func (d AgentDoc) toDomain(groups map[string]string) (domain.Agent, error) {
	scope, err := scopeOf(d.Scope, d.OwnerID, d.GroupID, groups)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("manifest: agent %q: %w", d.Name, err)
	}
	typ := d.Type
	if typ == "" {
		typ = domain.AgentNative
	}
	return domain.Agent{
		Name:              d.Name,
		DisplayName:       d.DisplayName,
		Description:       d.Description,
		Scope:             scope,
		Type:              typ,
		HostedAgentID:     d.AgentID,
		APIVersion:        d.APIVersion,
		ReferencedActions: d.ReferencedActions,
		Instructions:      d.Instructions,
		Metadata:          d.Metadata,
	}.Clone(), nil
}

func (d ActionDoc) toDomain(groups map[string]string) (domain.Action, error) {
	scope, err := scopeOf(d.Scope, d.OwnerID, d.GroupID, groups)
	if err != nil {
		return domain.Action{}, fmt.Errorf("manifest: action %q: %w", d.Name, err)
	}
	auth := d.Auth
	if auth == "" {
		auth = domain.AuthNone
	}
	return domain.Action{
		Name:         d.Name,
		DisplayName:  d.DisplayName,
		Type:         d.Type,
		Scope:        scope,
		Auth:         auth,
		SecretRef:    d.SecretRef,
		Endpoint:     d.Endpoint,
		ResourceKind: d.ResourceKind,
	}, nil
}
