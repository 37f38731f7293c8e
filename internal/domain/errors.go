package domain

import (
	"errors"
	"fmt"
)

// Фатальные для вызова ошибки резолва.
var (
	ErrAgentNotFound               = errors.New("agent not found")
	ErrCredentialResolution        = errors.New("credential resolution failed")
	ErrEndpointRegistrationTimeout = errors.New("endpoint registration timed out")
	ErrResolutionTimeout           = errors.New("resolution deadline exceeded")
	ErrInvalidRequest              = errors.New("invalid resolution request")
	ErrScopeStoreUnavailable       = errors.New("scope store unavailable")
)

// ErrNotFound возвращают хранилища, когда запись (группа, агент, action) исчезла.
// Во время fan-out это валидный терминальный исход для одного элемента, а не исключение.
var ErrNotFound = errors.New("not found")

// ErrorKind — категория ошибки резолва.
type ErrorKind string

const (
	KindAgentNotFound       ErrorKind = "agent_not_found"
	KindCredential          ErrorKind = "credential_resolution"
	KindEndpointTimeout     ErrorKind = "endpoint_registration_timeout"
	KindResolutionTimeout   ErrorKind = "resolution_timeout"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindScopeStore          ErrorKind = "scope_store"
	KindResolutionCancelled ErrorKind = "cancelled"
)

// ResolutionError — типизированная ошибка, которую получает вызывающий слой.
type ResolutionError struct {
	Kind ErrorKind
	Op   string // collect, select, credentials, build
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is сопоставляет категорию с базовыми sentinel-ошибками.
func (e *ResolutionError) Is(target error) bool {
	switch target {
	case ErrAgentNotFound:
		return e.Kind == KindAgentNotFound
	case ErrCredentialResolution:
		return e.Kind == KindCredential
	case ErrEndpointRegistrationTimeout:
		return e.Kind == KindEndpointTimeout
	case ErrResolutionTimeout:
		return e.Kind == KindResolutionTimeout
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	case ErrScopeStoreUnavailable:
		return e.Kind == KindScopeStore
	}
	return false
}

func NewResolutionError(kind ErrorKind, op string, err error) *ResolutionError {
	return &ResolutionError{Kind: kind, Op: op, Err: err}
}

// KindOf классифицирует произвольную ошибку резолва (для метрик и журнала).
func KindOf(err error) ErrorKind {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrAgentNotFound):
		return KindAgentNotFound
	case errors.Is(err, ErrCredentialResolution):
		return KindCredential
	case errors.Is(err, ErrEndpointRegistrationTimeout):
		return KindEndpointTimeout
	case errors.Is(err, ErrResolutionTimeout):
		return KindResolutionTimeout
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrScopeStoreUnavailable):
		return KindScopeStore
	}
	return ""
}
