package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "STOREVIEW"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// MinBcryptCost is the lowest password hashing cost accepted at runtime.
	MinBcryptCost = 12

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabasePath      = "storeview.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultSessionIssuer     = "storeview-identity"
	defaultSessionAudience   = "storeview-dashboard"
	defaultSessionCookieName = "storeview_session"
	defaultSessionTTL        = 30 * 24 * time.Hour
	defaultKratosSchemaID    = "default"
	defaultKratosTimeout     = 3 * time.Second
	defaultProvisionedBy     = "storeview-dashboard"
	defaultVTTimeout         = 3 * time.Second
	defaultRateLimitRPS      = 5.0
	defaultRateLimitBurst    = 10
)

// AppConfig captures runtime configuration for the identity service.
type AppConfig struct {
	HTTPAddress        string
	TrustedProxies     []string
	CORSAllowedOrigins []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	SessionSigningSecret string
	SessionIssuer        string
	SessionAudience      string
	SessionCookieName    string
	SessionTTL           time.Duration
	SessionCookieSecure  bool

	BcryptCost int

	KratosPublicURL     string
	KratosAdminURL      string
	KratosSchemaID      string
	KratosTimeout       time.Duration
	KratosProvisionedBy string

	VTBaseURL      string
	VTServiceToken string
	VTTimeout      time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	TracingOTLPEndpoint string
}

// KratosEnabled reports whether the external auth provider is configured.
func (c AppConfig) KratosEnabled() bool {
	return c.KratosPublicURL != "" && c.KratosAdminURL != ""
}

// VTEnabled reports whether the VT business service is configured.
func (c AppConfig) VTEnabled() bool {
	return c.VTBaseURL != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.audience", defaultSessionAudience)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.cookie_secure", true)
	configViper.SetDefault("password.bcrypt_cost", MinBcryptCost)
	configViper.SetDefault("kratos.schema_id", defaultKratosSchemaID)
	configViper.SetDefault("kratos.timeout", defaultKratosTimeout)
	configViper.SetDefault("kratos.provisioned_by", defaultProvisionedBy)
	configViper.SetDefault("vt.timeout", defaultVTTimeout)
	configViper.SetDefault("ratelimit.rps", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		TrustedProxies:       configViper.GetStringSlice("http.trusted_proxies"),
		CORSAllowedOrigins:   configViper.GetStringSlice("cors.allowed_origins"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionAudience:      configViper.GetString("session.audience"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           configViper.GetDuration("session.ttl"),
		SessionCookieSecure:  configViper.GetBool("session.cookie_secure"),
		BcryptCost:           configViper.GetInt("password.bcrypt_cost"),
		KratosPublicURL:      strings.TrimSpace(configViper.GetString("kratos.public_url")),
		KratosAdminURL:       strings.TrimSpace(configViper.GetString("kratos.admin_url")),
		KratosSchemaID:       configViper.GetString("kratos.schema_id"),
		KratosTimeout:        configViper.GetDuration("kratos.timeout"),
		KratosProvisionedBy:  configViper.GetString("kratos.provisioned_by"),
		VTBaseURL:            strings.TrimRight(strings.TrimSpace(configViper.GetString("vt.base_url")), "/"),
		VTServiceToken:       configViper.GetString("vt.service_token"),
		VTTimeout:            configViper.GetDuration("vt.timeout"),
		RateLimitRPS:         configViper.GetFloat64("ratelimit.rps"),
		RateLimitBurst:       configViper.GetInt("ratelimit.burst"),
		TracingOTLPEndpoint:  strings.TrimSpace(configViper.GetString("tracing.otlp_endpoint")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.BcryptCost < MinBcryptCost {
		return fmt.Errorf("password.bcrypt_cost must be at least %d", MinBcryptCost)
	}
	if (c.KratosPublicURL == "") != (c.KratosAdminURL == "") {
		return fmt.Errorf("kratos.public_url and kratos.admin_url must be set together")
	}
	for key, value := range map[string]string{
		"kratos.public_url": c.KratosPublicURL,
		"kratos.admin_url":  c.KratosAdminURL,
		"vt.base_url":       c.VTBaseURL,
	} {
		if value != "" && !isValidURL(value) {
			return fmt.Errorf("%s is not a valid url: %s", key, value)
		}
	}
	if c.KratosTimeout <= 0 || c.VTTimeout <= 0 {
		return fmt.Errorf("kratos.timeout and vt.timeout must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}

func isValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}
