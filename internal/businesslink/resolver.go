package businesslink

import (
	"context"
	"errors"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/metrics"
	"github.com/StoreViewLabs/storeview/identity/internal/tenants"
	"github.com/StoreViewLabs/storeview/identity/internal/vt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 3 * time.Second
	tracerName     = "github.com/StoreViewLabs/storeview/identity/internal/businesslink"
)

var errMissingService = errors.New("businesslink: vt service required")

// VTService is the subset of the VT API the resolver needs.
type VTService interface {
	GetBusinessID(ctx context.Context, platformID string) (string, error)
	CreateBusiness(ctx context.Context, request vt.CreateBusinessRequest) (string, error)
}

// ResolverConfig wires the resolver.
type ResolverConfig struct {
	Service VTService
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Resolver links a tenant to its VT business, creating the VT business on
// first use.
type Resolver struct {
	service VTService
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	group   singleflight.Group
}

// NewResolver constructs a resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		service: cfg.Service,
		timeout: timeout,
		logger:  logger,
		metrics: cfg.Metrics,
		clock:   clock,
	}, nil
}

// ResolveExternalTenantID returns the VT business id of business, or nil when
// the business has no VT credentials or VT could not be reached. Creation only
// follows an explicit not-found answer.
func (r *Resolver) ResolveExternalTenantID(ctx context.Context, business tenants.Business) *string {
	if !business.HasVTCredentials() {
		r.metrics.RecordTenantLink(metrics.OutcomeSkipped)
		return nil
	}
	credential := business.VTCredential

	// Detached from the caller; the per-call timeouts bound the work.
	result, _, _ := r.group.Do(credential.PlatformID, func() (interface{}, error) {
		return r.resolve(context.WithoutCancel(ctx), business), nil
	})
	id, _ := result.(string)
	if id == "" {
		return nil
	}
	return &id
}

func (r *Resolver) resolve(ctx context.Context, business tenants.Business) string {
	credential := business.VTCredential
	ctx, span := otel.Tracer(tracerName).Start(ctx, "businesslink.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", business.ID),
		attribute.String("vt.platform_id", credential.PlatformID))

	id, err := r.lookup(ctx, credential.PlatformID)
	switch {
	case err == nil:
		r.metrics.RecordTenantLink(metrics.OutcomeFound)
		return id
	case !errors.Is(err, vt.ErrBusinessNotFound):
		r.metrics.RecordTenantLink(metrics.OutcomeLookupFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.OutcomeLookupFailed)
		r.logger.Warn("vt business lookup failed",
			zap.String("business_id", business.ID),
			zap.String("platform_id", credential.PlatformID),
			zap.Error(err))
		return ""
	}

	id, err = r.create(ctx, business)
	if err != nil {
		r.metrics.RecordTenantLink(metrics.OutcomeCreateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.OutcomeCreateFailed)
		r.logger.Warn("vt business creation failed",
			zap.String("business_id", business.ID),
			zap.String("platform_id", credential.PlatformID),
			zap.Error(err))
		return ""
	}
	r.metrics.RecordTenantLink(metrics.OutcomeCreated)
	r.logger.Info("vt business created",
		zap.String("business_id", business.ID),
		zap.String("vt_business_id", id))
	return id
}

func (r *Resolver) lookup(ctx context.Context, platformID string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("get_business", r.clock())
	return r.service.GetBusinessID(callCtx, platformID)
}

func (r *Resolver) create(ctx context.Context, business tenants.Business) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer r.observe("create_business", r.clock())
	return r.service.CreateBusiness(callCtx, vt.CreateBusinessRequest{
		Name:       business.Name,
		PlatformID: business.VTCredential.PlatformID,
		APIKey:     business.VTCredential.APIKey,
	})
}

func (r *Resolver) observe(operation string, startedAt time.Time) {
	r.metrics.ObserveExternalCall("vt", operation, r.clock().Sub(startedAt).Seconds())
}
