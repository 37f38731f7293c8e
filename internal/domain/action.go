package domain

import "fmt"

// AuthRequirement — что нужно action, чтобы его можно было вызвать.
type AuthRequirement string

const (
	AuthNone            AuthRequirement = "none"
	AuthSecretRef       AuthRequirement = "secret-ref"
	AuthManagedIdentity AuthRequirement = "managed-identity"
)

// Action — манифест плагина, который агент может вызывать.
// SecretRef — непрозрачный handle (например "env://JIRA_TOKEN"), никогда не сам секрет.
type Action struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name,omitempty"`
	Type        string          `json:"type,omitempty"` // openapi, sql, http ...
	Scope       Scope           `json:"scope"`
	Auth        AuthRequirement `json:"auth_requirements"`
	SecretRef   string          `json:"secret_ref,omitempty"`
	Endpoint    string          `json:"endpoint,omitempty"`

	// ResourceKind — ресурс, на аудиторию которого нужен managed-identity токен.
	// Пусто — подходит любой managed-identity credential из бандла.
	ResourceKind ResourceKind `json:"resource_kind,omitempty"`
}

func (a Action) WithScope(s Scope) Action {
	a.Scope = s
	return a
}

func (a Action) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("action: name is required")
	}
	if err := a.Scope.Kind().Validate(); err != nil {
		return fmt.Errorf("action %q: %w", a.Name, err)
	}
	switch a.Auth {
	case AuthNone, "", AuthManagedIdentity:
	case AuthSecretRef:
		if a.SecretRef == "" {
			return fmt.Errorf("action %q: secret-ref auth without secret_ref", a.Name)
		}
	default:
		return fmt.Errorf("action %q: unknown auth requirement %q", a.Name, a.Auth)
	}
	return nil
}

// Group — членство пользователя, как его отдает Membership Provider.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
