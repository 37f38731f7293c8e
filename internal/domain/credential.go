package domain

import (
	"fmt"
	"time"
)

// Environment — вариант облака (sovereign cloud).
type Environment string

const (
	EnvPublic       Environment = "public"
	EnvUSGovernment Environment = "usgovernment"
	EnvCustom       Environment = "custom"
)

func (e Environment) Validate() error {
	switch e {
	case EnvPublic, EnvUSGovernment, EnvCustom:
		return nil
	default:
		return fmt.Errorf("invalid cloud environment: %q (must be public, usgovernment or custom)", e)
	}
}

// ResourceKind — тип ресурса, для которого выводится endpoint и аудитория токена.
type ResourceKind string

const (
	ResourceCacheInfra     ResourceKind = "cache-infrastructure-endpoint"
	ResourceCognitiveScope ResourceKind = "cognitive-services-token-scope"
	ResourceAgentHosting   ResourceKind = "agent-hosting-endpoint"
)

// ResourceKinds — все известные типы ресурсов в стабильном порядке.
var ResourceKinds = []ResourceKind{ResourceCacheInfra, ResourceCognitiveScope, ResourceAgentHosting}

func (k ResourceKind) Validate() error {
	switch k {
	case ResourceCacheInfra, ResourceCognitiveScope, ResourceAgentHosting:
		return nil
	default:
		return fmt.Errorf("unknown resource kind: %q", k)
	}
}

type AuthMode string

const (
	AuthModeManagedIdentity  AuthMode = "managed-identity"
	AuthModeServicePrincipal AuthMode = "service-principal"
	AuthModeAPIKey           AuthMode = "api-key"
)

func (m AuthMode) Validate() error {
	switch m {
	case AuthModeManagedIdentity, AuthModeServicePrincipal, AuthModeAPIKey:
		return nil
	default:
		return fmt.Errorf("invalid auth mode: %q", m)
	}
}

// Credential — результат получения доступа. Никогда не логируется и не сериализуется.
type Credential struct {
	AuthMode  AuthMode
	Token     string // Непрозрачный, ограничен по времени
	APIKey    string
	ExpiresAt time.Time // Нулевое значение — без срока (api-key)
}

// Expired учитывает запас skew, чтобы не отдавать токен, который протухнет в полете.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// String не раскрывает материал секрета (zap.Any, %v, fmt).
func (c Credential) String() string {
	return fmt.Sprintf("Credential{mode=%s, expires_at=%s, secret=[REDACTED]}", c.AuthMode, c.ExpiresAt.Format(time.RFC3339))
}

func (c Credential) GoString() string { return c.String() }

// ResolvedEndpoint — endpoint + credential для одного ресурса.
type ResolvedEndpoint struct {
	Environment  Environment
	ResourceKind ResourceKind
	URL          string
	Audience     string
	Credential   Credential
}

// EndpointView — безопасная для вывода проекция (без токенов и ключей).
type EndpointView struct {
	Environment  Environment  `json:"environment"`
	ResourceKind ResourceKind `json:"resource_kind"`
	URL          string       `json:"endpoint_url"`
	Audience     string       `json:"audience,omitempty"`
	AuthMode     AuthMode     `json:"auth_mode"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

func (r ResolvedEndpoint) View() EndpointView {
	v := EndpointView{
		Environment:  r.Environment,
		ResourceKind: r.ResourceKind,
		URL:          r.URL,
		Audience:     r.Audience,
		AuthMode:     r.Credential.AuthMode,
	}
	if !r.Credential.ExpiresAt.IsZero() {
		t := r.Credential.ExpiresAt
		v.ExpiresAt = &t
	}
	return v
}
