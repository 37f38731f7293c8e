package api

import (
	"errors"
	"net/http"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// Ошибки доступа к API. Движок резолва их не возвращает.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// StatusClientClosedRequest — вызывающий ушел до ответа (nginx 499).
const StatusClientClosedRequest = 499

// MapHTTPStatus переводит ошибку резолва в HTTP-код.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCredentialResolution):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrEndpointRegistrationTimeout), errors.Is(err, domain.ErrResolutionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrScopeStoreUnavailable):
		return http.StatusServiceUnavailable
	case domain.KindOf(err) == domain.KindResolutionCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorKind — код ошибки в теле ответа.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
