package domain

import (
	"encoding/json"
	"fmt"
)

// ScopeKind — уровень видимости агента или action.
type ScopeKind string

const (
	ScopePersonal ScopeKind = "personal" // Один пользователь
	ScopeGroup    ScopeKind = "group"    // Команда
	ScopeGlobal   ScopeKind = "global"   // Вся организация
)

// Validate проверяет, что значение входит в перечисление.
func (k ScopeKind) Validate() error {
	switch k {
	case ScopePersonal, ScopeGroup, ScopeGlobal:
		return nil
	default:
		return fmt.Errorf("invalid scope: %q", k)
	}
}

// Scope — вариант {Personal{owner}, Group{id, name}, Global}.
// Проставляется один раз при сборе манифестов (Collector) и дальше не меняется:
// поля закрыты, изменить тег можно только построив новый Scope.
type Scope struct {
	kind      ScopeKind
	ownerID   string
	groupID   string
	groupName string
}

func PersonalScope(ownerID string) Scope {
	return Scope{kind: ScopePersonal, ownerID: ownerID}
}

func GroupScope(groupID, groupName string) Scope {
	return Scope{kind: ScopeGroup, groupID: groupID, groupName: groupName}
}

func GlobalScope() Scope {
	return Scope{kind: ScopeGlobal}
}

func (s Scope) Kind() ScopeKind { return s.kind }
func (s Scope) OwnerID() string { return s.ownerID }
func (s Scope) GroupID() string { return s.groupID }
func (s Scope) GroupName() string { return s.groupName }
func (s Scope) IsGlobal() bool { return s.kind == ScopeGlobal }
func (s Scope) IsGroup() bool { return s.kind == ScopeGroup }
func (s Scope) IsPersonal() bool { return s.kind == ScopePersonal }

// IsZero — тег еще не проставлен.
func (s Scope) IsZero() bool { return s.kind == "" }

func (s Scope) String() string {
	switch s.kind {
	case ScopePersonal:
		return "personal:" + s.ownerID
	case ScopeGroup:
		return "group:" + s.groupID
	case ScopeGlobal:
		return "global"
	default:
		return "unscoped"
	}
}

type scopeJSON struct {
	Kind      ScopeKind `json:"kind"`
	OwnerID   string    `json:"owner_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	GroupName string    `json:"group_name,omitempty"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(scopeJSON{Kind: s.kind, OwnerID: s.ownerID, GroupID: s.groupID, GroupName: s.groupName})
}
