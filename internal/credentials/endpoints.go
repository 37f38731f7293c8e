package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// Placeholder — единственная подстановка в шаблоне: hostname/фрагмент ресурса вызывающего.
const Placeholder = "{resource}"

// EndpointTemplate — пара шаблонов для одного ресурса в одном облаке.
type EndpointTemplate struct {
	URL      string
	Audience string // Пусто — аудиторией считается origin endpoint-а + "/.default"
}

// Overrides — настройки ресурса, которые приходят из конфигурации.
type Overrides struct {
	ResourceName            string // Подставляется вместо {resource}
	EndpointTemplate        string // Обязателен для custom
	Audience                string
	Authority               string // Custom authority для service principal
	TenantID                string
	ClientID                string
	ClientSecretRef         string
	APIKey                  string // Сырой ключ (только для локальной разработки)
	APIKeyRef               string
	ManagedIdentityClientID string
	IdentityEndpoint        string
}

// Встроенные шаблоны известных облаков. Для custom их нет: без override это
// ошибка конфигурации, коммерческие URL туда не подставляются.
var builtinTemplates = map[domain.Environment]map[domain.ResourceKind]EndpointTemplate{
	domain.EnvPublic: {
		domain.ResourceCacheInfra: {
			URL:      "https://{resource}.redis.cache.windows.net",
			Audience: "https://redis.azure.com/.default",
		},
		domain.ResourceCognitiveScope: {
			URL:      "https://cognitiveservices.azure.com/.default",
			Audience: "https://cognitiveservices.azure.com/.default",
		},
		domain.ResourceAgentHosting: {
			URL:      "https://{resource}.services.ai.azure.com/api/projects",
			Audience: "https://ai.azure.com/.default",
		},
	},
	domain.EnvUSGovernment: {
		domain.ResourceCacheInfra: {
			URL:      "https://{resource}.redis.cache.usgovcloudapi.net",
			Audience: "https://redis.azure.us/.default",
		},
		domain.ResourceCognitiveScope: {
			URL:      "https://cognitiveservices.azure.us/.default",
			Audience: "https://cognitiveservices.azure.us/.default",
		},
		domain.ResourceAgentHosting: {
			URL:      "https://{resource}.services.ai.azure.us/api/projects",
			Audience: "https://ai.azure.us/.default",
		},
	},
}

var builtinAuthorities = map[domain.Environment]string{
	domain.EnvPublic:       "https://login.microsoftonline.com",
	domain.EnvUSGovernment: "https://login.microsoftonline.us",
}

// Table — lookup-таблица endpoint-ов по (environment, resource_kind).
type Table struct {
	templates   map[domain.Environment]map[domain.ResourceKind]EndpointTemplate
	authorities map[domain.Environment]string
}

func NewTable() *Table {
	return &Table{templates: builtinTemplates, authorities: builtinAuthorities}
}

// Endpoint выводит URL и аудиторию ресурса.
func (t *Table) Endpoint(env domain.Environment, kind domain.ResourceKind, ov Overrides) (string, string, error) {
	if err := env.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrCredentialResolution, err)
	}
	if err := kind.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrCredentialResolution, err)
	}

	tmpl, ok := t.templates[env][kind]
	if ov.EndpointTemplate != "" {
		tmpl = EndpointTemplate{URL: ov.EndpointTemplate, Audience: tmpl.Audience}
		if env == domain.EnvCustom {
			tmpl.Audience = ""
		}
		ok = true
	}
	if !ok {
		return "", "", fmt.Errorf("%w: no endpoint template for %s in %s cloud (custom environments require an explicit override)",
			domain.ErrCredentialResolution, kind, env)
	}

	endpoint, err := expand(tmpl.URL, ov.ResourceName)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", domain.ErrCredentialResolution, kind, err)
	}

	audience := ov.Audience
	if audience == "" {
		audience = tmpl.Audience
	}
	if audience == "" {
		audience, err = defaultAudience(endpoint)
		if err != nil {
			return "", "", fmt.Errorf("%w: %s: %v", domain.ErrCredentialResolution, kind, err)
		}
	}
	return endpoint, audience, nil
}

// Authority возвращает authority host для service principal.
func (t *Table) Authority(env domain.Environment, override string) (string, error) {
	if override != "" {
		return strings.TrimRight(override, "/"), nil
	}
	if a, ok := t.authorities[env]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %s cloud requires an explicit authority URL", domain.ErrCredentialResolution, env)
}

// Validate проверяет настройки облака при старте, чтобы пропущенный custom override
// падал сразу, а не на первом запросе.
func (t *Table) Validate(cloud CloudSettings) error {
	if err := cloud.Environment.Validate(); err != nil {
		return err
	}

	var errs []error
	for _, kind := range cloud.ResourceKinds() {
		rs := cloud.Resources[kind]
		ov := cloud.OverridesFor(kind)

		if err := rs.AuthMode.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if _, _, err := t.Endpoint(cloud.Environment, kind, ov); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}

		switch rs.AuthMode {
		case domain.AuthModeServicePrincipal:
			if ov.TenantID == "" || ov.ClientID == "" || ov.ClientSecretRef == "" {
				errs = append(errs, fmt.Errorf("%s: service-principal requires tenant_id, client_id and client_secret_ref", kind))
			}
			if _, err := t.Authority(cloud.Environment, ov.Authority); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			}
		case domain.AuthModeAPIKey:
			if ov.APIKey == "" && ov.APIKeyRef == "" {
				errs = append(errs, fmt.Errorf("%s: api-key mode requires api_key_ref", kind))
			}
		case domain.AuthModeManagedIdentity:
			if cloud.ManagedIdentityEndpoint == "" {
				errs = append(errs, fmt.Errorf("%s: managed-identity requires cloud.managed_identity_endpoint", kind))
			}
		}
	}
	return errors.Join(errs...)
}

func expand(tmpl, resource string) (string, error) {
	if strings.Count(tmpl, Placeholder) > 1 {
		return "", fmt.Errorf("template %q has more than one %s placeholder", tmpl, Placeholder)
	}
	if strings.Contains(tmpl, Placeholder) {
		if resource == "" {
			return "", fmt.Errorf("template %q requires resource_name", tmpl)
		}
		tmpl = strings.Replace(tmpl, Placeholder, resource, 1)
	}
	u, err := url.Parse(tmpl)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint URL %q", tmpl)
	}
	return tmpl, nil
}

func defaultAudience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host + "/.default", nil
}
