package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/journal"
	"github.com/xela07ax/spaceai-scope-resolver/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Request — вход resolve_execution_context.
type Request struct {
	UserID        string           `json:"user_id"`
	AgentName     string           `json:"agent_name,omitempty"`
	ScopeHint     domain.ScopeHint `json:"scope_hint"`
	ActiveGroupID string           `json:"active_group_id,omitempty"`
	TraceID       string           `json:"-"`
}

func (r Request) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if err := r.ScopeHint.Validate(); err != nil {
		return fmt.Errorf("%w: unknown scope hint %q", domain.ErrInvalidRequest, r.ScopeHint)
	}
	if r.ScopeHint == domain.HintGroup && r.ActiveGroupID == "" {
		return fmt.Errorf("%w: group session without active group id", domain.ErrInvalidRequest)
	}
	return nil
}

// Deps — коллабораторы движка.
type Deps struct {
	Store       ScopeStore
	Members     MembershipProvider
	Credentials CredentialResolver
	Secrets     credentials.SecretResolver
	Journal     journal.Recorder // nil — журнал не ведется
	Metrics     *metrics.Metrics
	FanOutLimit int
}

// Engine — пайплайн collect -> merge -> select -> credentials -> build.
// Глобальной блокировки нет: каждый вызов независим.
type Engine struct {
	collector *Collector
	builder   *Builder
	creds     CredentialResolver
	journal   journal.Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(d Deps, logger *zap.Logger) *Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	var checker ActionChecker
	if c, ok := d.Store.(ActionChecker); ok {
		checker = c
	}
	return &Engine{
		collector: NewCollector(d.Store, d.Members, d.FanOutLimit, logger),
		builder:   NewBuilder(d.Secrets, checker, logger),
		creds:     d.Credentials,
		journal:   d.Journal,
		metrics:   d.Metrics,
		logger:    logger.Named("engine"),
		now:       time.Now,
	}
}

// Resolve собирает неизменяемый execution context для одного хода беседы.
// Нефатальные исходы попадают в Warnings контекста, фатальные возвращаются как *domain.ResolutionError.
func (e *Engine) Resolve(ctx context.Context, settings Settings, req Request) (*domain.ExecutionContext, error) {
	start := e.now()
	id := uuid.NewString()

	ec, err := e.resolve(ctx, settings, req, id)

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	e.metrics.ResolutionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	e.metrics.Resolutions.WithLabelValues(outcome).Inc()
	e.record(req, id, ec, err, outcome, start)

	if err != nil {
		e.logger.Warn("resolution failed",
			zap.String("resolution_id", id),
			zap.String("user_id", req.UserID),
			zap.String("agent", req.AgentName),
			zap.String("outcome", outcome),
			zap.Error(err))
		return nil, err
	}

	for _, w := range ec.Warnings() {
		e.metrics.Warnings.WithLabelValues(string(w.Kind)).Inc()
	}
	e.logger.Debug("execution context resolved",
		zap.String("resolution_id", id),
		zap.String("user_id", req.UserID),
		zap.String("agent", ec.Agent().Name),
		zap.Strings("actions", ec.ActionNames()),
		zap.Int("warnings", len(ec.Warnings())))
	return ec, nil
}

func (e *Engine) resolve(parent context.Context, settings Settings, req Request, id string) (*domain.ExecutionContext, error) {
	if err := req.Validate(); err != nil {
		return nil, domain.NewResolutionError(domain.KindInvalidRequest, "validate", err)
	}

	ctx, cancel := withDeadline(parent, settings.ResolutionTimeout)
	defer cancel()

	set, warnings, err := e.effective(ctx, settings, req.UserID)
	if err != nil {
		return nil, e.fail(parent, "collect", domain.KindScopeStore, err)
	}

	agent, err := Select(set, req.AgentName, req.ScopeHint, req.ActiveGroupID)
	if err != nil {
		return nil, e.fail(parent, "select", domain.KindAgentNotFound, err)
	}

	actions := set.ActionsFor(agent)
	required, optional := resourceKinds(agent, actions)
	bundle, err := e.creds.ResolveBundle(ctx, settings.Cloud, required, optional)
	if err != nil {
		return nil, e.fail(parent, "credentials", domain.KindCredential, err)
	}

	ec, err := e.builder.Build(ctx, BuildInput{
		ResolutionID: id,
		UserID:       req.UserID,
		ScopeHint:    req.ScopeHint,
		GroupID:      req.ActiveGroupID,
		Agent:        agent,
		Actions:      actions,
		Bundle:       bundle,
		Warnings:     warnings,
		CreatedAt:    e.now(),
	})
	if err != nil {
		return nil, e.fail(parent, "build", domain.KindResolutionCancelled, err)
	}
	return ec, nil
}

// Agents — агенты, видимые пользователю из сессии (для выпадающего списка в чате).
func (e *Engine) Agents(ctx context.Context, settings Settings, userID string, hint domain.ScopeHint, activeGroupID string) ([]domain.Agent, []domain.Warning, error) {
	req := Request{UserID: userID, ScopeHint: hint, ActiveGroupID: activeGroupID}
	if err := req.Validate(); err != nil {
		return nil, nil, domain.NewResolutionError(domain.KindInvalidRequest, "validate", err)
	}

	dctx, cancel := withDeadline(ctx, settings.ResolutionTimeout)
	defer cancel()

	set, warnings, err := e.effective(dctx, settings, userID)
	if err != nil {
		return nil, nil, e.fail(ctx, "collect", domain.KindScopeStore, err)
	}
	return Visible(set, hint, activeGroupID), warnings, nil
}

// effective — collect и global параллельно, затем merge после join barrier.
func (e *Engine) effective(ctx context.Context, settings Settings, userID string) (EffectiveSet, []domain.Warning, error) {
	var collected CollectedSet
	var global GlobalSet

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		collected, err = e.collector.Collect(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		global, err = e.collector.Global(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return EffectiveSet{}, nil, ctx.Err()
		}
		return EffectiveSet{}, nil, err
	}

	set := Merge(collected, global, settings.MergeGlobalEnabled)

	warnings := make([]domain.Warning, 0, len(collected.Warnings)+len(global.Warnings)+len(set.Conflicts))
	warnings = append(warnings, collected.Warnings...)
	warnings = append(warnings, global.Warnings...)
	warnings = append(warnings, set.Warnings()...)
	return set, warnings, nil
}

// fail превращает ошибку шага в *domain.ResolutionError. Истекший дедлайн — таймаут резолва,
// отмена вызывающим — cancelled.
func (e *Engine) fail(parent context.Context, op string, fallback domain.ErrorKind, err error) error {
	var re *domain.ResolutionError
	if errors.As(err, &re) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewResolutionError(domain.KindResolutionTimeout, op, fmt.Errorf("%w: %v", domain.ErrResolutionTimeout, err))
	case errors.Is(err, context.Canceled) || parent.Err() != nil:
		return domain.NewResolutionError(domain.KindResolutionCancelled, op, err)
	}
	kind := domain.KindOf(err)
	if kind == "" {
		kind = fallback
	}
	return domain.NewResolutionError(kind, op, err)
}

func (e *Engine) record(req Request, id string, ec *domain.ExecutionContext, err error, outcome string, start time.Time) {
	if e.journal == nil {
		return
	}
	entry := journal.Entry{
		ID:             id,
		TraceID:        req.TraceID,
		UserID:         req.UserID,
		ScopeHint:      req.ScopeHint,
		GroupID:        req.ActiveGroupID,
		RequestedAgent: req.AgentName,
		Outcome:        outcome,
		Timestamp:      start,
		DurationMs:     time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if ec != nil {
		agent := ec.Agent()
		entry.SelectedAgent = agent.Name
		entry.AgentScope = agent.Scope.String()
		entry.Actions = ec.ActionNames()
		entry.Warnings = ec.Warnings()
	}
	e.journal.Record(entry)
}

// resourceKinds — какие ресурсы нужны агенту. Endpoint исполнения обязателен:
// hosted — agent-hosting, native — token scope cognitive services.
// Ресурсы managed-identity actions агента необязательны: без настройки action отбросит Builder.
func resourceKinds(agent domain.Agent, actions []domain.Action) (required, optional []domain.ResourceKind) {
	if agent.IsHosted() {
		required = []domain.ResourceKind{domain.ResourceAgentHosting}
	} else {
		required = []domain.ResourceKind{domain.ResourceCognitiveScope}
	}

	byName := make(map[string]domain.Action, len(actions))
	for _, a := range actions {
		if _, ok := byName[a.Name]; !ok {
			byName[a.Name] = a
		}
	}
	for _, name := range agent.ReferencedActions {
		a, ok := byName[name]
		if !ok || a.Auth != domain.AuthManagedIdentity || a.ResourceKind == "" {
			continue
		}
		optional = append(optional, a.ResourceKind)
	}
	return required, optional
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
