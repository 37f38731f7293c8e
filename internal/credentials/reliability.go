package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityWrapper оборачивает TokenSource: лимитер -> предохранитель на authority -> ретраи с backoff.
type ReliabilityWrapper struct {
	next    TokenSource
	cfg     ReliabilityConfig
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewReliabilityWrapper(next TokenSource, cfg ReliabilityConfig, m *metrics.Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if m == nil {
		m = metrics.New(nil)
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &ReliabilityWrapper{
		next:     next,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  m,
		logger:   logger.Named("token-reliability"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker — по одному предохранителю на authority (или metadata endpoint),
// чтобы отказ одного облака не блокировал другое.
func (w *ReliabilityWrapper) breaker(key string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cb, ok := w.breakers[key]; ok {
		return cb
	}

	failures := w.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     w.cfg.BreakerTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Отказ authority в доступе — это ответ, а не сбой сети
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1
			}
			w.metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
			w.logger.Warn("token authority breaker state changed",
				zap.String("authority", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	w.breakers[key] = cb
	return cb
}

// Token получает токен с ретраями. Исчерпанный бюджет на транзиентных ошибках
// превращается в ErrEndpointRegistrationTimeout, отказ authority — в ErrCredentialResolution.
func (w *ReliabilityWrapper) Token(ctx context.Context, req TokenRequest) (Token, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Token{}, fmt.Errorf("%w: rate limit wait: %v", domain.ErrEndpointRegistrationTimeout, err)
	}

	cb := w.breaker(breakerKey(req))
	var tok Token

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(w.cfg.Attempts),
		retry.Delay(w.cfg.BaseDelay),
		retry.MaxDelay(w.cfg.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !IsPermanent(err) && !errors.Is(err, gobreaker.ErrOpenState)
		}),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			d := retry.BackOffDelay(n, err, config)
			if w.cfg.MaxDelay > 0 && d > w.cfg.MaxDelay {
				return w.cfg.MaxDelay
			}
			return d
		}),
	)

	err := r.Do(func() error {
		res, err := cb.Execute(func() (interface{}, error) {
			if w.cfg.AttemptTimeout <= 0 {
				return w.next.Token(ctx, req)
			}
			aCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
			defer cancel()
			return w.next.Token(aCtx, req)
		})
		if err != nil {
			return err
		}
		tok = res.(Token)
		return nil
	})
	if err == nil {
		return tok, nil
	}

	switch {
	case IsPermanent(err):
		return Token{}, fmt.Errorf("%w: %v", domain.ErrCredentialResolution, err)
	case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Token{}, ctx.Err()
	default:
		return Token{}, fmt.Errorf("%w: %v", domain.ErrEndpointRegistrationTimeout, err)
	}
}

func breakerKey(req TokenRequest) string {
	if req.Authority != "" {
		return req.Authority
	}
	return "managed-identity"
}
