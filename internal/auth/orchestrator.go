package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/StoreViewLabs/storeview/identity/internal/metrics"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"go.uber.org/zap"
)

const (
	flowRegister = "register"
	flowLogin    = "login"
)

var errMissingCredentials = errors.New("auth: credential store required")

// Credentials is the primary-store contract used by the orchestrator.
type Credentials interface {
	VerifyCredentials(ctx context.Context, email, password string) (users.Identity, error)
	CreateIdentity(ctx context.Context, request NewIdentity) (users.Identity, error)
}

// ExternalSessionEnsurer obtains a provider session, returning nil when degraded.
type ExternalSessionEnsurer interface {
	EnsureExternalSession(ctx context.Context, email, password string) *ProviderSession
}

// OrchestratorConfig wires the orchestrator's collaborators. External may be
// nil when no provider is configured; every result is then degraded.
type OrchestratorConfig struct {
	Credentials Credentials
	External    ExternalSessionEnsurer
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// RegistrationRequest carries sign-up input. Name and Role are optional.
type RegistrationRequest struct {
	Email    string
	Password string
	Name     string
	Role     users.Role
}

// Result is a successful registration or login. ProviderSession is nil when
// the external provider could not be synchronized.
type Result struct {
	Identity        users.Identity
	ProviderSession *ProviderSession
}

// Degraded reports whether external synchronization failed for this result.
func (r Result) Degraded() bool {
	return r.ProviderSession == nil
}

// Orchestrator runs the registration and login flows.
type Orchestrator struct {
	credentials Credentials
	external    ExternalSessionEnsurer
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Credentials == nil {
		return nil, errMissingCredentials
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		credentials: cfg.Credentials,
		external:    cfg.External,
		logger:      logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Register creates a primary identity and then mirrors it to the external
// provider. A failed sync never rolls back the insert.
func (o *Orchestrator) Register(ctx context.Context, request RegistrationRequest) (Result, error) {
	if err := validate(request.Email, request.Password); err != nil {
		o.record(flowRegister, err)
		return Result{}, err
	}

	identity, err := o.credentials.CreateIdentity(ctx, NewIdentity{
		Email:    request.Email,
		Password: request.Password,
		Name:     request.Name,
		Role:     request.Role,
	})
	if err != nil {
		o.record(flowRegister, err)
		o.logFailure(flowRegister, request.Email, err)
		return Result{}, err
	}

	result := Result{Identity: identity, ProviderSession: o.syncExternal(ctx, flowRegister, identity, request.Password)}
	o.record(flowRegister, nil)
	return result, nil
}

// Authenticate verifies the password against the primary store and only then
// synchronizes the external provider.
func (o *Orchestrator) Authenticate(ctx context.Context, email, password string) (Result, error) {
	if err := validate(email, password); err != nil {
		o.record(flowLogin, err)
		return Result{}, err
	}

	identity, err := o.credentials.VerifyCredentials(ctx, email, password)
	if err != nil {
		o.record(flowLogin, err)
		o.logFailure(flowLogin, email, err)
		return Result{}, err
	}

	result := Result{Identity: identity, ProviderSession: o.syncExternal(ctx, flowLogin, identity, password)}
	o.record(flowLogin, nil)
	return result, nil
}

func (o *Orchestrator) syncExternal(ctx context.Context, flow string, identity users.Identity, password string) *ProviderSession {
	if o.external == nil {
		return nil
	}
	session := o.external.EnsureExternalSession(ctx, identity.Email, password)
	if session == nil {
		o.logger.Warn("external auth sync degraded",
			zap.String("flow", flow),
			zap.String("user_id", identity.ID))
	}
	return session
}

func (o *Orchestrator) record(flow string, err error) {
	if err == nil {
		o.metrics.RecordAuthAttempt(flow, "success")
		return
	}
	o.metrics.RecordAuthAttempt(flow, string(KindOf(err)))
}

func (o *Orchestrator) logFailure(flow, email string, err error) {
	if KindOf(err) == KindAuthenticationFailed {
		o.logger.Error("authentication flow failed",
			zap.String("flow", flow),
			zap.String("email", users.NormalizeEmail(email)),
			zap.Error(err))
		return
	}
	o.logger.Debug("authentication rejected",
		zap.String("flow", flow),
		zap.String("kind", string(KindOf(err))))
}

func validate(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return missingField("email")
	}
	if password == "" {
		return missingField("password")
	}
	return nil
}
