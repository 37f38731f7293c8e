package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenRequest — все, что нужно источнику для получения токена.
type TokenRequest struct {
	Audience         string
	Authority        string // service principal
	TenantID         string
	ClientID         string
	ClientSecret     string
	IdentityEndpoint string // managed identity; пусто — endpoint источника
}

// Token — выданный authority токен.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource получает токен по сети. Реализации обязаны учитывать ctx.
type TokenSource interface {
	Token(ctx context.Context, req TokenRequest) (Token, error)
}

// TokenSourceFunc — адаптер для функций (тесты, заглушки).
type TokenSourceFunc func(ctx context.Context, req TokenRequest) (Token, error)

func (f TokenSourceFunc) Token(ctx context.Context, req TokenRequest) (Token, error) {
	return f(ctx, req)
}

// permanentError — ответ authority, который не исправится повтором (400/401/403).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неретраибельную.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Если токен пришел без срока жизни, а exp из JWT прочитать не удалось.
const fallbackTokenLifetime = 5 * time.Minute

// DefaultManagedIdentityEndpoint — стандартный IMDS endpoint виртуальных машин и контейнеров.
const DefaultManagedIdentityEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

// ManagedIdentitySource ходит в metadata endpoint платформы (IMDS-совместимый протокол).
type ManagedIdentitySource struct {
	endpoint string
	client   *http.Client
}

func NewManagedIdentitySource(endpoint string, client *http.Client) *ManagedIdentitySource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ManagedIdentitySource{endpoint: endpoint, client: client}
}

type imdsResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
	ExpiresOn   string `json:"expires_on"`
	TokenType   string `json:"token_type"`
}

func (s *ManagedIdentitySource) Token(ctx context.Context, req TokenRequest) (Token, error) {
	endpoint := s.endpoint
	if req.IdentityEndpoint != "" {
		endpoint = req.IdentityEndpoint
	}
	if endpoint == "" {
		return Token{}, Permanent(errors.New("managed identity endpoint is not configured"))
	}

	q := url.Values{}
	q.Set("api-version", "2018-02-01")
	q.Set("resource", strings.TrimSuffix(req.Audience, "/.default"))
	if req.ClientID != "" {
		q.Set("client_id", req.ClientID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Token{}, Permanent(fmt.Errorf("build identity request: %w", err))
	}
	httpReq.Header.Set("Metadata", "true")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Token{}, fmt.Errorf("identity endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("read identity response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("identity endpoint returned %d", resp.StatusCode)
		if !retryableStatus(resp.StatusCode) {
			return Token{}, Permanent(err)
		}
		return Token{}, err
	}

	var r imdsResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Token{}, Permanent(fmt.Errorf("decode identity response: %w", err))
	}
	if r.AccessToken == "" {
		return Token{}, Permanent(errors.New("identity endpoint returned empty token"))
	}

	return Token{Value: r.AccessToken, ExpiresAt: imdsExpiry(r, time.Now())}, nil
}

func imdsExpiry(r imdsResponse, now time.Time) time.Time {
	if sec, err := strconv.ParseInt(r.ExpiresOn, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0)
	}
	if sec, err := strconv.ParseInt(r.ExpiresIn, 10, 64); err == nil && sec > 0 {
		return now.Add(time.Duration(sec) * time.Second)
	}
	return jwtExpiry(r.AccessToken, now)
}

// ServicePrincipalSource — client credentials grant против authority (в т.ч. custom).
type ServicePrincipalSource struct {
	client *http.Client
}

func NewServicePrincipalSource(client *http.Client) *ServicePrincipalSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ServicePrincipalSource{client: client}
}

// TokenURL строит token endpoint v2 для authority и тенанта.
func TokenURL(authority, tenantID string) string {
	return strings.TrimRight(authority, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token"
}

func (s *ServicePrincipalSource) Token(ctx context.Context, req TokenRequest) (Token, error) {
	if req.Authority == "" || req.TenantID == "" || req.ClientID == "" || req.ClientSecret == "" {
		return Token{}, Permanent(errors.New("service principal requires authority, tenant, client id and secret"))
	}

	cfg := clientcredentials.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		TokenURL:     TokenURL(req.Authority, req.TenantID),
		Scopes:       []string{req.Audience},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, s.client))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && !retryableStatus(re.Response.StatusCode) {
			return Token{}, Permanent(fmt.Errorf("authority rejected client credentials: status %d", re.Response.StatusCode))
		}
		return Token{}, fmt.Errorf("token endpoint: %w", err)
	}

	exp := tok.Expiry
	if exp.IsZero() {
		exp = jwtExpiry(tok.AccessToken, time.Now())
	}
	return Token{Value: tok.AccessToken, ExpiresAt: exp}, nil
}

// jwtExpiry читает exp без проверки подписи: токен предназначен ресурсу, не нам.
func jwtExpiry(raw string, now time.Time) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(fallbackTokenLifetime)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
