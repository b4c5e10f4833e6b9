package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/ctxkeys"
	"github.com/BaSui01/mediaflow/internal/telemetry"
	"github.com/BaSui01/mediaflow/media/relocation"
	"github.com/BaSui01/mediaflow/media/video"
	"github.com/BaSui01/mediaflow/types"
)

// Operations and outcomes reported to the Observer.
const (
	OperationSubmit = "submit"
	OperationPoll   = "poll"

	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeTransient = "transient"
	OutcomeCanceled  = "canceled"
)

// Relocator moves a finished asset into object storage.
type Relocator interface {
	Relocate(ctx context.Context, a relocation.Asset) (string, error)
}

// Observer receives one call per provider exchange.
type Observer interface {
	ObserveProviderCall(provider, operation, outcome string, duration time.Duration)
}

// ProviderInfo describes one registered provider.
type ProviderInfo struct {
	Name         string             `json:"name"`
	Capabilities video.Capabilities `json:"capabilities"`
}

// Orchestrator routes submissions and polls to vendor adapters and
// relocates finished assets.
type Orchestrator struct {
	registry   *Registry
	relocator  Relocator
	classifier TransientErrorClassifier
	observer   Observer
	tracer     trace.Tracer
	logger     *zap.Logger

	submitTimeout time.Duration
	pollTimeout   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c TransientErrorClassifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an Orchestrator. relocator may be nil, in which case vendor
// URLs are returned as-is.
func New(cfg config.OrchestratorConfig, registry *Registry, relocator Relocator, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	o := &Orchestrator{
		registry:      registry,
		relocator:     relocator,
		classifier:    DefaultClassifier{},
		tracer:        telemetry.Tracer("orchestrator"),
		logger:        logger.With(zap.String("component", "orchestrator")),
		submitTimeout: cfg.SubmitTimeout,
		pollTimeout:   cfg.PollTimeout,
	}
	if o.submitTimeout <= 0 {
		o.submitTimeout = 5 * time.Minute
	}
	if o.pollTimeout <= 0 {
		o.pollTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers lists registered providers in name order.
func (o *Orchestrator) Providers() []ProviderInfo {
	names := o.registry.List()
	out := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		p, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, ProviderInfo{Name: name, Capabilities: p.Capabilities()})
	}
	return out
}

func (o *Orchestrator) provider(name string) (video.Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, types.NewInvalidRequestError("provider is required")
	}
	p, ok := o.registry.Get(name)
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedProvider, fmt.Sprintf("unsupported provider %q", name)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return p, nil
}

// =============================================================================
// 🚀 提交
// =============================================================================

// Submit validates req and forwards it to the matching adapter. Failures
// are never absorbed: a deadline becomes UPSTREAM_TIMEOUT and a transport
// failure UPSTREAM_ERROR.
func (o *Orchestrator) Submit(ctx context.Context, req *video.GenerationRequest) (*video.TaskHandle, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("request is required")
	}
	p, err := o.provider(req.Provider)
	if err != nil {
		return nil, err
	}
	name := p.Name()

	ctx, span := o.tracer.Start(ctx, "video.submit", trace.WithAttributes(
		attribute.String("video.provider", name),
		attribute.Int("video.reference_images", len(req.ReferenceImages)),
	))
	defer span.End()

	start := time.Now()
	mode, err := video.PlanRequest(req, p.Capabilities())
	if err != nil {
		o.finish(span, name, OperationSubmit, OutcomeInvalid, start, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("video.mode", string(mode)))

	submitCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	defer cancel()

	handle, err := p.Submit(submitCtx, req)
	if err != nil {
		err = submitError(name, err)
		o.finish(span, name, OperationSubmit, outcomeOf(err), start, err)
		o.logger.Warn("video submission failed", o.fields(ctx, name,
			zap.String("mode", string(mode)),
			zap.Error(err),
		)...)
		return nil, err
	}
	if handle.Status == "" {
		handle.Status = video.StateQueued
	}
	span.SetAttributes(attribute.String("video.task_id", handle.TaskID))
	o.finish(span, name, OperationSubmit, OutcomeOK, start, nil)
	o.logger.Info("video submitted", o.fields(ctx, name,
		zap.String("mode", string(mode)),
		zap.String("task_id", handle.TaskID),
	)...)
	return handle, nil
}

// submitError maps adapter failures onto the public error codes.
func submitError(provider string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "request timed out").
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithProvider(provider).
			WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.NewError(types.ErrUpstreamError, "network error").
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(provider).
			WithCause(err)
	}
	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider).
		WithCause(err)
}

// =============================================================================
// 🔄 轮询
// =============================================================================

// Poll fetches the task state from the vendor. Transient failures are
// reported as processing. A succeeded task carries a storage URL.
func (o *Orchestrator) Poll(ctx context.Context, provider, taskID string) (*video.TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, types.NewInvalidRequestError("task id is required")
	}
	p, err := o.provider(provider)
	if err != nil {
		return nil, err
	}
	name := p.Name()

	ctx, span := o.tracer.Start(ctx, "video.poll", trace.WithAttributes(
		attribute.String("video.provider", name),
		attribute.String("video.task_id", taskID),
	))
	defer span.End()

	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, o.pollTimeout)
	defer cancel()

	status, err := p.Poll(pollCtx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			o.finish(span, name, OperationPoll, OutcomeCanceled, start, ctx.Err())
			return nil, ctx.Err()
		}
		if o.classifier.IsTransient(err) {
			o.finish(span, name, OperationPoll, OutcomeTransient, start, nil)
			o.logger.Debug("transient poll failure, reporting processing", o.fields(ctx, name,
				zap.String("task_id", taskID),
				zap.Error(err),
			)...)
			return processing(taskID), nil
		}
		o.finish(span, name, OperationPoll, OutcomeError, start, err)
		return nil, err
	}
	o.finish(span, name, OperationPoll, OutcomeOK, start, nil)

	status.Normalize()
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	span.SetAttributes(attribute.String("video.state", string(status.State)))
	if status.State != video.StateSucceeded || o.relocator == nil {
		return status, nil
	}

	stored, err := o.relocate(pollCtx, name, status)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, relocation.ErrInProgress) || errors.Is(err, context.DeadlineExceeded) {
			// 上传在后台继续，下次轮询命中缓存
			return processing(status.TaskID), nil
		}
		return nil, err
	}
	status.VideoURL = stored
	return status, nil
}

func (o *Orchestrator) relocate(ctx context.Context, provider string, status *video.TaskStatus) (string, error) {
	ctx, span := o.tracer.Start(ctx, "video.relocate", trace.WithAttributes(
		attribute.String("video.provider", provider),
		attribute.String("video.cache_key", status.CacheKey(provider)),
	))
	defer span.End()

	u, err := o.relocator.Relocate(ctx, relocation.Asset{
		Provider: provider,
		TaskID:   status.TaskID,
		CacheKey: status.CacheKey(provider),
		URL:      status.VideoURL,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return u, nil
}

func processing(taskID string) *video.TaskStatus {
	return &video.TaskStatus{TaskID: taskID, State: video.StateProcessing}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (o *Orchestrator) finish(span trace.Span, provider, operation, outcome string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if o.observer != nil {
		o.observer.ObserveProviderCall(provider, operation, outcome, time.Since(start))
	}
}

func (o *Orchestrator) fields(ctx context.Context, provider string, extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, len(extra)+2)
	fields = append(fields, zap.String("provider", provider))
	if id, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	return append(fields, extra...)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case types.IsErrorCode(err, types.ErrUpstreamTimeout):
		return OutcomeTimeout
	case types.IsErrorCode(err, types.ErrInvalidRequest):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
