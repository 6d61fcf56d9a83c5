package kratos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/auth"
	kratosclient "github.com/ory/kratos-client-go"
)

const (
	defaultTimeout  = 3 * time.Second
	defaultSchemaID = "default"
	passwordMethod  = "password"
)

var (
	// ErrUnavailable wraps transport failures and unexpected Kratos statuses.
	ErrUnavailable = errors.New("kratos: unavailable")
	// ErrRejected reports a login Kratos answered with a client error.
	ErrRejected = errors.New("kratos: credentials rejected")

	errMissingPublicURL = errors.New("kratos: public url required")
	errMissingAdminURL  = errors.New("kratos: admin url required")
	errMissingSession   = errors.New("kratos: login returned no session token")
)

// Config describes how to reach the Kratos public and admin APIs.
type Config struct {
	PublicURL string
	AdminURL  string
	SchemaID  string
	Timeout   time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Provider implements auth.ExternalAuthProvider on top of Ory Kratos.
type Provider struct {
	public   *kratosclient.APIClient
	admin    *kratosclient.APIClient
	schemaID string
}

var _ auth.ExternalAuthProvider = (*Provider)(nil)

// NewProvider constructs Kratos public and admin clients.
func NewProvider(cfg Config) (*Provider, error) {
	publicURL := strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if publicURL == "" {
		return nil, errMissingPublicURL
	}
	adminURL := strings.TrimRight(strings.TrimSpace(cfg.AdminURL), "/")
	if adminURL == "" {
		return nil, errMissingAdminURL
	}
	schemaID := strings.TrimSpace(cfg.SchemaID)
	if schemaID == "" {
		schemaID = defaultSchemaID
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Provider{
		public:   newAPIClient(publicURL, httpClient),
		admin:    newAPIClient(adminURL, httpClient),
		schemaID: schemaID,
	}, nil
}

func newAPIClient(baseURL string, httpClient *http.Client) *kratosclient.APIClient {
	configuration := kratosclient.NewConfiguration()
	configuration.Servers = []kratosclient.ServerConfiguration{{URL: baseURL}}
	configuration.HTTPClient = httpClient
	return kratosclient.NewAPIClient(configuration)
}

// FindAccountByEmail looks the identity up by its password identifier.
func (p *Provider) FindAccountByEmail(ctx context.Context, email string) (*auth.ExternalAccount, error) {
	identities, response, err := p.admin.IdentityAPI.
		ListIdentities(ctx).
		CredentialsIdentifier(email).
		Execute()
	if err != nil {
		return nil, unavailable("list identities", response, err)
	}
	for _, identity := range identities {
		if strings.EqualFold(traitEmail(identity.Traits), email) {
			return &auth.ExternalAccount{ID: identity.Id, Email: email}, nil
		}
	}
	return nil, nil
}

// CreateAccount provisions a password identity with a verified email address.
func (p *Provider) CreateAccount(ctx context.Context, request auth.AccountRequest) (*auth.ExternalAccount, error) {
	body := kratosclient.CreateIdentityBody{
		SchemaId: p.schemaID,
		Traits:   map[string]interface{}{"email": request.Email},
		Credentials: &kratosclient.IdentityWithCredentials{
			Password: &kratosclient.IdentityWithCredentialsPassword{
				Config: &kratosclient.IdentityWithCredentialsPasswordConfig{
					Password: kratosclient.PtrString(request.Password),
				},
			},
		},
	}
	if len(request.Metadata) > 0 {
		metadata := make(map[string]interface{}, len(request.Metadata))
		for key, value := range request.Metadata {
			metadata[key] = value
		}
		body.MetadataAdmin = metadata
	}
	if request.Verified {
		body.VerifiableAddresses = []kratosclient.VerifiableIdentityAddress{{
			Value:    request.Email,
			Verified: true,
			Via:      "email",
			Status:   "completed",
		}}
	}

	identity, response, err := p.admin.IdentityAPI.
		CreateIdentity(ctx).
		CreateIdentityBody(body).
		Execute()
	if err != nil {
		if response != nil && response.StatusCode == http.StatusConflict {
			return nil, auth.ErrAccountExists
		}
		return nil, unavailable("create identity", response, err)
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: create identity returned no body", ErrUnavailable)
	}
	return &auth.ExternalAccount{ID: identity.Id, Email: request.Email}, nil
}

// PasswordSignIn runs a native (API) login flow with the password method.
func (p *Provider) PasswordSignIn(ctx context.Context, email, password string) (auth.ProviderSession, error) {
	flow, response, err := p.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return auth.ProviderSession{}, unavailable("create login flow", response, err)
	}

	method := kratosclient.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Method:     passwordMethod,
		Password:   password,
	}
	login, response, err := p.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratosclient.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&method)).
		Execute()
	if err != nil {
		if response != nil && response.StatusCode >= 400 && response.StatusCode < 500 {
			return auth.ProviderSession{}, fmt.Errorf("%w: status %d", ErrRejected, response.StatusCode)
		}
		return auth.ProviderSession{}, unavailable("submit login flow", response, err)
	}
	if login == nil || login.SessionToken == nil || *login.SessionToken == "" {
		return auth.ProviderSession{}, errMissingSession
	}

	session := auth.ProviderSession{AccessToken: *login.SessionToken}
	if login.Session.ExpiresAt != nil {
		session.ExpiresAt = login.Session.ExpiresAt.UTC()
	}
	return session, nil
}

func unavailable(operation string, response *http.Response, err error) error {
	if response != nil {
		return fmt.Errorf("%w: %s: status %d: %v", ErrUnavailable, operation, response.StatusCode, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, operation, err)
}

func traitEmail(traits interface{}) string {
	values, ok := traits.(map[string]interface{})
	if !ok {
		return ""
	}
	email, _ := values["email"].(string)
	return email
}
