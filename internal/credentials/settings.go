package credentials

import (
	"slices"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// ResourceSettings — режим аутентификации и override-ы одного ресурса.
type ResourceSettings struct {
	AuthMode         domain.AuthMode
	ResourceName     string
	EndpointTemplate string
	Audience         string
	Authority        string
	TenantID         string
	ClientID         string
	ClientSecretRef  string
	APIKey           string
	APIKeyRef        string
}

// CloudSettings — снимок облачных настроек для одного вызова резолва.
type CloudSettings struct {
	Environment             domain.Environment
	Authority               string // Authority по умолчанию для всех ресурсов (обязателен для custom + service principal)
	ManagedIdentityEndpoint string
	ManagedIdentityClientID string
	Resources               map[domain.ResourceKind]ResourceSettings
}

// ResourceKinds — настроенные ресурсы в стабильном порядке.
func (c CloudSettings) ResourceKinds() []domain.ResourceKind {
	kinds := make([]domain.ResourceKind, 0, len(c.Resources))
	for k := range c.Resources {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Configured сообщает, настроен ли ресурс.
func (c CloudSettings) Configured(kind domain.ResourceKind) bool {
	_, ok := c.Resources[kind]
	return ok
}

// AuthModeFor — режим аутентификации ресурса.
func (c CloudSettings) AuthModeFor(kind domain.ResourceKind) domain.AuthMode {
	return c.Resources[kind].AuthMode
}

// OverridesFor склеивает настройки ресурса с настройками облака.
func (c CloudSettings) OverridesFor(kind domain.ResourceKind) Overrides {
	rs := c.Resources[kind]
	ov := Overrides{
		ResourceName:            rs.ResourceName,
		EndpointTemplate:        rs.EndpointTemplate,
		Audience:                rs.Audience,
		Authority:               rs.Authority,
		TenantID:                rs.TenantID,
		ClientID:                rs.ClientID,
		ClientSecretRef:         rs.ClientSecretRef,
		APIKey:                  rs.APIKey,
		APIKeyRef:               rs.APIKeyRef,
		ManagedIdentityClientID: c.ManagedIdentityClientID,
		IdentityEndpoint:        c.ManagedIdentityEndpoint,
	}
	if ov.Authority == "" {
		ov.Authority = c.Authority
	}
	return ov
}

// ReliabilityConfig — бюджет на получение токена: таймауты, ретраи, предохранитель.
type ReliabilityConfig struct {
	Attempts       uint
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	AcquireTimeout time.Duration // Общий предел на один acquisition (все попытки)
	ExpirySkew     time.Duration

	RateLimit float64
	RateBurst int

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Attempts:        3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		AttemptTimeout:  5 * time.Second,
		AcquireTimeout:  20 * time.Second,
		ExpirySkew:      30 * time.Second,
		RateLimit:       20,
		RateBurst:       10,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}
