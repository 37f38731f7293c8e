package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// DefaultLeeway — допуск расхождения часов с выпускающим токены сервисом.
const DefaultLeeway = 30 * time.Second

var (
	ErrNoToken   = errors.New("missing bearer token")
	ErrNoSubject = errors.New("token carries no user id")
)

// Principal — пользователь, от имени которого идет резолв.
type Principal struct {
	UserID string
	Scopes map[string]bool
}

func (p Principal) HasScope(scope string) bool { return p.Scopes[scope] }

// Validator проверяет RS256 bearer-токены, выпущенные внешним identity-сервисом.
// Сервис резолва токены не выпускает, поэтому хранит только публичный ключ.
type Validator struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

func NewValidator(key *rsa.PublicKey, leeway time.Duration) *Validator {
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Validator{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
}

// Authenticate разбирает значение заголовка Authorization и возвращает Principal.
// Токен без user id (и без sub) отклоняется.
func (v *Validator) Authenticate(header string) (Principal, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer"))
	if raw == "" {
		return Principal{}, ErrNoToken
	}

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}); err != nil {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	userID := claims.EffectiveUserID()
	if userID == "" {
		return Principal{}, ErrNoSubject
	}
	return Principal{UserID: userID, Scopes: maps.Clone(claims.Scopes)}, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
