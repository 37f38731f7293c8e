package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey struct{}

// Authenticator — проверка заголовка Authorization.
type Authenticator interface {
	Authenticate(header string) (Principal, error)
}

// NewMiddleware кладет Principal в контекст запроса. Резолв всегда идет
// от имени конкретного пользователя, поэтому без него запрос не проходит дальше.
func NewMiddleware(a Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext — аутентифицированный пользователь запроса.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.UserID != ""
}
