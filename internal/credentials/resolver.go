package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Sources — сетевые источники токенов по режиму аутентификации.
type Sources struct {
	ManagedIdentity  TokenSource
	ServicePrincipal TokenSource
}

// DefaultSources — боевые источники поверх общего HTTP-клиента.
func DefaultSources(client *http.Client) Sources {
	return Sources{
		ManagedIdentity:  NewManagedIdentitySource(DefaultManagedIdentityEndpoint, client),
		ServicePrincipal: NewServicePrincipalSource(client),
	}
}

// Resolver отображает (environment, resource_kind, auth_mode, overrides) в endpoint + credential.
type Resolver struct {
	table   *Table
	secrets SecretResolver
	mi      TokenSource
	sp      TokenSource
	cfg     ReliabilityConfig
	cache   *TokenCache
	flight  singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewResolver(table *Table, secrets SecretResolver, sources Sources, cfg ReliabilityConfig, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if m == nil {
		m = metrics.New(nil)
	}
	if secrets == nil {
		secrets = EnvSecrets{}
	}
	r := &Resolver{
		table:   table,
		secrets: secrets,
		cfg:     cfg,
		cache:   NewTokenCache(),
		metrics: m,
		logger:  logger.Named("credentials"),
		now:     time.Now,
	}
	if sources.ManagedIdentity != nil {
		r.mi = NewReliabilityWrapper(sources.ManagedIdentity, cfg, m, logger)
	}
	if sources.ServicePrincipal != nil {
		r.sp = NewReliabilityWrapper(sources.ServicePrincipal, cfg, m, logger)
	}
	return r
}

// Cache — доступ к кэшу токенов (сброс при смене облака).
func (r *Resolver) Cache() *TokenCache { return r.cache }

// Resolve выводит endpoint и получает credential для одного ресурса.
func (r *Resolver) Resolve(ctx context.Context, env domain.Environment, kind domain.ResourceKind, mode domain.AuthMode, ov Overrides) (domain.ResolvedEndpoint, error) {
	endpoint, audience, err := r.table.Endpoint(env, kind, ov)
	if err != nil {
		return domain.ResolvedEndpoint{}, err
	}

	res := domain.ResolvedEndpoint{
		Environment:  env,
		ResourceKind: kind,
		URL:          endpoint,
		Audience:     audience,
	}

	switch mode {
	case domain.AuthModeAPIKey:
		key := ov.APIKey
		if key == "" && ov.APIKeyRef != "" {
			key, err = r.secrets.Resolve(ctx, ov.APIKeyRef)
			if err != nil {
				return domain.ResolvedEndpoint{}, fmt.Errorf("%w: %s api key: %v", domain.ErrCredentialResolution, kind, err)
			}
		}
		if key == "" {
			return domain.ResolvedEndpoint{}, fmt.Errorf("%w: %s: api key is not configured", domain.ErrCredentialResolution, kind)
		}
		res.Credential = domain.Credential{AuthMode: mode, APIKey: key}
		return res, nil

	case domain.AuthModeManagedIdentity:
		if r.mi == nil {
			return domain.ResolvedEndpoint{}, fmt.Errorf("%w: managed identity source is not configured", domain.ErrCredentialResolution)
		}
		req := TokenRequest{
			Audience:         audience,
			ClientID:         ov.ManagedIdentityClientID,
			IdentityEndpoint: ov.IdentityEndpoint,
		}
		key := CacheKey{Environment: env, Audience: audience, Identity: "mi:" + ov.ManagedIdentityClientID}
		res.Credential, err = r.acquire(ctx, key, mode, r.mi, req)

	case domain.AuthModeServicePrincipal:
		if r.sp == nil {
			return domain.ResolvedEndpoint{}, fmt.Errorf("%w: service principal source is not configured", domain.ErrCredentialResolution)
		}
		authority, aerr := r.table.Authority(env, ov.Authority)
		if aerr != nil {
			return domain.ResolvedEndpoint{}, aerr
		}
		if ov.TenantID == "" || ov.ClientID == "" || ov.ClientSecretRef == "" {
			return domain.ResolvedEndpoint{}, fmt.Errorf("%w: %s: service principal requires tenant_id, client_id and client_secret_ref",
				domain.ErrCredentialResolution, kind)
		}
		key := CacheKey{Environment: env, Audience: audience, Identity: "sp:" + authority + "/" + ov.TenantID + "/" + ov.ClientID}
		if cred, ok := r.cached(key); ok {
			res.Credential = cred
			return res, nil
		}
		secret, serr := r.secrets.Resolve(ctx, ov.ClientSecretRef)
		if serr != nil {
			return domain.ResolvedEndpoint{}, fmt.Errorf("%w: %s client secret: %v", domain.ErrCredentialResolution, kind, serr)
		}
		req := TokenRequest{
			Audience:     audience,
			Authority:    authority,
			TenantID:     ov.TenantID,
			ClientID:     ov.ClientID,
			ClientSecret: secret,
		}
		res.Credential, err = r.acquire(ctx, key, mode, r.sp, req)

	default:
		return domain.ResolvedEndpoint{}, fmt.Errorf("%w: %s: unsupported auth mode %q", domain.ErrCredentialResolution, kind, mode)
	}

	if err != nil {
		return domain.ResolvedEndpoint{}, err
	}
	return res, nil
}

// ResolveBundle резолвит набор ресурсов из настроек облака. Ресурсы из required
// обязаны быть настроены; optional без настроек пропускаются.
func (r *Resolver) ResolveBundle(ctx context.Context, cloud CloudSettings, required, optional []domain.ResourceKind) ([]domain.ResolvedEndpoint, error) {
	out := make([]domain.ResolvedEndpoint, 0, len(required)+len(optional))
	seen := make(map[domain.ResourceKind]bool)

	resolve := func(kind domain.ResourceKind, mustExist bool) error {
		if seen[kind] {
			return nil
		}
		seen[kind] = true
		if !cloud.Configured(kind) {
			if mustExist {
				return fmt.Errorf("%w: resource %s is not configured", domain.ErrCredentialResolution, kind)
			}
			return nil
		}
		ep, err := r.Resolve(ctx, cloud.Environment, kind, cloud.AuthModeFor(kind), cloud.OverridesFor(kind))
		if err != nil {
			return err
		}
		out = append(out, ep)
		return nil
	}

	for _, k := range required {
		if err := resolve(k, true); err != nil {
			return nil, err
		}
	}
	for _, k := range optional {
		if err := resolve(k, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Resolver) cached(key CacheKey) (domain.Credential, bool) {
	cred, ok := r.cache.Get(key, r.now(), r.cfg.ExpirySkew)
	if ok {
		r.metrics.TokenCache.WithLabelValues("hit").Inc()
	}
	return cred, ok
}

// acquire берет токен из кэша или получает его один раз на ключ (singleflight).
// Получение идет на контексте, отвязанном от вызывающего: если запрос отменят,
// токен все равно попадет в кэш, но этот вызывающий получит ctx.Err().
func (r *Resolver) acquire(ctx context.Context, key CacheKey, mode domain.AuthMode, src TokenSource, req TokenRequest) (domain.Credential, error) {
	if cred, ok := r.cached(key); ok {
		return cred, nil
	}
	r.metrics.TokenCache.WithLabelValues("miss").Inc()

	ch := r.flight.DoChan(key.String(), func() (interface{}, error) {
		aCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.acquireTimeout())
		defer cancel()

		tok, err := src.Token(aCtx, req)
		if err != nil {
			r.metrics.CredentialErrors.WithLabelValues(string(key.Environment), string(mode)).Inc()
			r.logger.Warn("token acquisition failed",
				zap.String("environment", string(key.Environment)),
				zap.String("audience", key.Audience),
				zap.String("auth_mode", string(mode)),
				zap.Error(err))
			return domain.Credential{}, err
		}

		cred := domain.Credential{AuthMode: mode, Token: tok.Value, ExpiresAt: tok.ExpiresAt}
		r.cache.Put(key, cred, r.now())
		r.logger.Debug("token acquired",
			zap.String("environment", string(key.Environment)),
			zap.String("audience", key.Audience),
			zap.Time("expires_at", tok.ExpiresAt))
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return domain.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, domain.ErrCredentialResolution) && !errors.Is(res.Err, domain.ErrEndpointRegistrationTimeout) {
				return domain.Credential{}, fmt.Errorf("%w: %v", domain.ErrEndpointRegistrationTimeout, res.Err)
			}
			return domain.Credential{}, res.Err
		}
		return res.Val.(domain.Credential), nil
	}
}

func (r *Resolver) acquireTimeout() time.Duration {
	if r.cfg.AcquireTimeout > 0 {
		return r.cfg.AcquireTimeout
	}
	return 30 * time.Second
}
