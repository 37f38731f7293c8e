package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound — ссылка на секрет не разрешается.
var ErrSecretNotFound = errors.New("secret not found")

// SecretResolver превращает непрозрачную ссылку в значение секрета.
// Значение живет только внутри вызова и никогда не логируется.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvSecrets разрешает ссылки вида "env://NAME" и "env(NAME)".
type EnvSecrets struct{}

func (EnvSecrets) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := envRefName(ref)
	if !ok {
		return "", fmt.Errorf("%w: unsupported reference scheme %q", ErrSecretNotFound, redactRef(ref))
	}
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, ref)
	}
	return v, nil
}

// StaticSecrets — фиксированный набор (тесты, CLI).
type StaticSecrets map[string]string

func (s StaticSecrets) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := s[ref]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, ref)
}

func envRefName(ref string) (string, bool) {
	switch {
	case strings.HasPrefix(ref, "env://"):
		name := strings.TrimPrefix(ref, "env://")
		return name, name != ""
	case strings.HasPrefix(ref, "env(") && strings.HasSuffix(ref, ")"):
		name := ref[len("env(") : len(ref)-1]
		return name, name != ""
	}
	return "", false
}

func redactRef(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return ref[:i] + "://…"
	}
	return "…"
}
