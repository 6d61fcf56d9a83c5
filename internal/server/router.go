package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/auth"
	"github.com/StoreViewLabs/storeview/identity/internal/session"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	tokenContextKey   = "storeview_session_token"
	heartbeatInterval = 25 * time.Second
)

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingSessions      = errors.New("session builder dependency required")
	errMissingCodec         = errors.New("session codec dependency required")
)

// Authenticator runs the registration and login flows.
type Authenticator interface {
	Register(ctx context.Context, request auth.RegistrationRequest) (auth.Result, error)
	Authenticate(ctx context.Context, email, password string) (auth.Result, error)
}

// SessionBuilder moves session tokens between states.
type SessionBuilder interface {
	Apply(ctx context.Context, existing session.Token, event session.Event) (session.Token, error)
}

// TokenCodec signs tokens into cookies and reads them back from requests.
type TokenCodec interface {
	Encode(token session.Token) (string, time.Time, error)
	Decode(raw string) (session.Token, error)
	DecodeRequest(r *http.Request) (session.Token, error)
	CookieName() string
}

type Dependencies struct {
	Auth     Authenticator
	Sessions SessionBuilder
	Codec    TokenCodec
	Realtime *SessionDispatcher
	// Metrics exposes /metrics when set.
	Metrics        prometheus.Gatherer
	Logger         *zap.Logger
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For; nil trusts none.
	TrustedProxies []string
	RateLimit      RateLimitConfig
	SecureCookies  bool
	Clock          func() time.Time
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Codec == nil {
		return nil, errMissingCodec
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewSessionDispatcher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		auth:          deps.Auth,
		sessions:      deps.Sessions,
		codec:         deps.Codec,
		realtime:      realtime,
		logger:        logger,
		secureCookies: deps.SecureCookies,
		clock:         clock,
	}

	credentials := router.Group("/auth")
	if deps.RateLimit.Rate > 0 {
		credentials.Use(newRateLimiter(deps.RateLimit, nil).middleware())
	}
	credentials.POST("/register", handler.handleRegister)
	credentials.POST("/login", handler.handleLogin)

	router.POST("/auth/logout", handler.handleLogout)

	protected := router.Group("/auth/session")
	protected.Use(handler.authorizeRequest)
	protected.GET("", handler.handleGetSession)
	protected.PATCH("", handler.handleUpdateSession)

	router.GET("/auth/session/events", handler.authorizeStream, handler.handleSessionEvents)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	return router, nil
}

// corsMiddleware allows credentialed requests only from explicitly listed
// origins. Without a list any origin may call, but without cookies.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	auth          Authenticator
	sessions      SessionBuilder
	codec         TokenCodec
	realtime      *SessionDispatcher
	logger        *zap.Logger
	secureCookies bool
	clock         func() time.Time
}

type registerRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionUpdatePayload holds the fields a user may change on their own
// session. Tenant, billing, VT and provider fields come from the server only.
type sessionUpdatePayload struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

type sessionResponsePayload struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int64           `json:"expires_in"`
	TokenType   string          `json:"token_type"`
	Session     session.Session `json:"session"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, ok := parseSelfServiceRole(request.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}

	result, err := h.auth.Register(c.Request.Context(), auth.RegistrationRequest{
		Email:    request.Email,
		Password: request.Password,
		Name:     request.Name,
		Role:     role,
	})
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	h.issueSession(c, http.StatusCreated, result)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.auth.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	h.issueSession(c, http.StatusOK, result)
}

func (h *httpHandler) issueSession(c *gin.Context, status int, result auth.Result) {
	token, err := h.sessions.Apply(c.Request.Context(), session.Token{}, session.SignIn{
		Identity:        result.Identity,
		ProviderSession: result.ProviderSession,
	})
	if err != nil {
		h.logger.Error("failed to mint session token", zap.String("user_id", result.Identity.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(auth.KindAuthenticationFailed)})
		return
	}
	h.writeSession(c, status, token)
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	token, ok := h.currentToken(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Project(token))
}

func (h *httpHandler) handleUpdateSession(c *gin.Context) {
	token, ok := h.currentToken(c)
	if !ok {
		return
	}
	var request sessionUpdatePayload
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	overlay := session.Overlay{Name: request.Name, Image: request.Image}
	if overlay.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.sessions.Apply(c.Request.Context(), token, session.Update{Overlay: overlay})
	if err != nil {
		h.logger.Error("failed to update session token", zap.String("user_id", token.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_update_failed"})
		return
	}
	if !h.writeSession(c, http.StatusOK, updated) {
		return
	}

	projected := session.Project(updated)
	h.realtime.Publish(SessionEvent{
		UserID:    updated.UserID,
		EventType: SessionEventUpdated,
		Session:   &projected,
		Timestamp: h.clock().UTC(),
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if token, err := h.codec.DecodeRequest(c.Request); err == nil {
		h.realtime.Publish(SessionEvent{
			UserID:    token.UserID,
			EventType: SessionEventEnded,
			Timestamp: h.clock().UTC(),
		})
	}
	h.setCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

type sessionEventPayload struct {
	Source    string           `json:"source"`
	Timestamp string           `json:"timestamp"`
	Session   *session.Session `json:"session,omitempty"`
}

func (h *httpHandler) handleSessionEvents(c *gin.Context) {
	token, ok := h.currentToken(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, token.UserID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, sessionEventPayload{
				Source:    sessionEventSource,
				Timestamp: event.Timestamp.Format(time.RFC3339),
				Session:   event.Session,
			})
			return event.EventType != SessionEventEnded
		case tick := <-heartbeat.C:
			c.SSEvent(sessionEventHeartbeat, sessionEventPayload{
				Source:    sessionEventSource,
				Timestamp: tick.UTC().Format(time.RFC3339),
			})
			return true
		}
	})
}

func (h *httpHandler) writeSession(c *gin.Context, status int, token session.Token) bool {
	signed, expiresAt, err := h.codec.Encode(token)
	if err != nil {
		h.logger.Error("failed to sign session token", zap.String("user_id", token.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(auth.KindAuthenticationFailed)})
		return false
	}
	expiresIn := int64(expiresAt.Sub(h.clock()).Seconds())
	h.setCookie(c, signed, int(expiresIn))
	c.JSON(status, sessionResponsePayload{
		AccessToken: signed,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Session:     session.Project(token),
	})
	return true
}

func (h *httpHandler) setCookie(c *gin.Context, value string, maxAge int) {
	name := h.codec.CookieName()
	if name == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", h.secureCookies, true)
}

// authorizeRequest reads the token from the cookie or bearer header.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	h.authorize(c, false)
}

// authorizeStream also accepts an access_token query parameter for
// EventSource clients.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	h.authorize(c, true)
}

func (h *httpHandler) authorize(c *gin.Context, allowQuery bool) {
	var (
		token session.Token
		err   error
	)
	if raw := strings.TrimSpace(c.Query("access_token")); allowQuery && raw != "" {
		token, err = h.codec.Decode(raw)
	} else {
		token, err = h.codec.DecodeRequest(c.Request)
	}
	if err != nil {
		if errors.Is(err, session.ErrExpiredToken) || errors.Is(err, session.ErrMissingToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(tokenContextKey, token)
	c.Next()
}

func (h *httpHandler) currentToken(c *gin.Context) (session.Token, bool) {
	value, exists := c.Get(tokenContextKey)
	token, ok := value.(session.Token)
	if !exists || !ok || token.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return session.Token{}, false
	}
	return token, true
}

func (h *httpHandler) writeAuthError(c *gin.Context, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) || !authErr.UserFacing() {
		h.logger.Error("authentication request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(auth.KindAuthenticationFailed)})
		return
	}
	body := gin.H{"error": string(authErr.Kind)}
	if authErr.Field != "" {
		body["field"] = authErr.Field
	}
	c.JSON(statusForKind(authErr.Kind), body)
}

func statusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindMissingField:
		return http.StatusBadRequest
	case auth.KindUserAlreadyExists:
		return http.StatusConflict
	case auth.KindUserNotFound:
		return http.StatusNotFound
	case auth.KindInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// parseSelfServiceRole accepts the roles a user may pick at sign-up.
func parseSelfServiceRole(value string) (users.Role, bool) {
	role := users.Role(strings.ToUpper(strings.TrimSpace(value)))
	switch role {
	case "":
		return "", true
	case users.RoleStaff, users.RoleBusinessOwner:
		return role, true
	default:
		return "", false
	}
}
