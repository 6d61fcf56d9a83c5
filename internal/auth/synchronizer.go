package auth

import (
	"context"
	"errors"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/metrics"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultProviderTimeout = 3 * time.Second
	provisionedByKey       = "provisioned_by"
	tracerName             = "github.com/StoreViewLabs/storeview/identity/internal/auth"
)

var errMissingProvider = errors.New("auth: external auth provider required")

// SynchronizerConfig configures the external auth synchronizer.
type SynchronizerConfig struct {
	Provider ExternalAuthProvider
	// ProvisionedBy tags accounts created by this service.
	ProvisionedBy string
	// Timeout bounds each provider call.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Synchronizer mirrors primary identities into the external auth provider and
// obtains a provider session for them. It never fails the caller.
type Synchronizer struct {
	provider      ExternalAuthProvider
	provisionedBy string
	timeout       time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
	clock         func() time.Time
}

// NewSynchronizer constructs a synchronizer.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Synchronizer{
		provider:      cfg.Provider,
		provisionedBy: cfg.ProvisionedBy,
		timeout:       timeout,
		logger:        logger,
		metrics:       cfg.Metrics,
		clock:         clock,
	}, nil
}

// EnsureExternalSession makes sure an external account exists for email and
// signs into it. A nil result means the provider is degraded; the caller
// proceeds on the primary store alone.
func (s *Synchronizer) EnsureExternalSession(ctx context.Context, email, password string) *ProviderSession {
	email = users.NormalizeEmail(email)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "auth.EnsureExternalSession")
	defer span.End()

	account, err := s.findAccount(ctx, email)
	if err != nil {
		// A failed lookup counts as not found.
		s.metrics.RecordExternalAuth(metrics.OutcomeLookupFailed)
		s.logger.Info("external account lookup failed; attempting provisioning",
			zap.String("email", email),
			zap.Error(err))
	}

	if account == nil {
		created, err := s.createAccount(ctx, email, password)
		switch {
		case errors.Is(err, ErrAccountExists):
			s.metrics.RecordExternalAuth(metrics.OutcomeExisting)
		case err != nil:
			s.degrade(span, metrics.OutcomeCreateFailed, "external account creation failed", email, err)
			return nil
		default:
			s.metrics.RecordExternalAuth(metrics.OutcomeCreated)
			if created != nil {
				span.SetAttributes(attribute.String("external.account_id", created.ID))
			}
		}
	} else {
		s.metrics.RecordExternalAuth(metrics.OutcomeExisting)
		span.SetAttributes(attribute.String("external.account_id", account.ID))
	}

	session, err := s.signIn(ctx, email, password)
	if err != nil {
		s.degrade(span, metrics.OutcomeSignInFailed, "external sign-in failed", email, err)
		return nil
	}
	s.metrics.RecordExternalAuth(metrics.OutcomeSignedIn)
	return &session
}

func (s *Synchronizer) findAccount(ctx context.Context, email string) (*ExternalAccount, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer s.observe("find_account", s.clock())
	return s.provider.FindAccountByEmail(callCtx, email)
}

func (s *Synchronizer) createAccount(ctx context.Context, email, password string) (*ExternalAccount, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer s.observe("create_account", s.clock())

	metadata := map[string]string{}
	if s.provisionedBy != "" {
		metadata[provisionedByKey] = s.provisionedBy
	}
	return s.provider.CreateAccount(callCtx, AccountRequest{
		Email:    email,
		Password: password,
		Verified: true,
		Metadata: metadata,
	})
}

func (s *Synchronizer) signIn(ctx context.Context, email, password string) (ProviderSession, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	defer s.observe("sign_in", s.clock())
	return s.provider.PasswordSignIn(callCtx, email, password)
}

func (s *Synchronizer) observe(operation string, startedAt time.Time) {
	s.metrics.ObserveExternalCall("auth_provider", operation, s.clock().Sub(startedAt).Seconds())
}

func (s *Synchronizer) degrade(span trace.Span, outcome, message, email string, cause error) {
	s.metrics.RecordExternalAuth(outcome)
	span.RecordError(cause)
	span.SetStatus(codes.Error, outcome)
	s.logger.Warn(message,
		zap.String("email", email),
		zap.Error(errors.Join(ErrExternalSyncFailed, cause)))
}
