package vt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 3 * time.Second
	breakerOpenTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
)

var (
	// ErrBusinessNotFound is the explicit "no business for this platform id" answer.
	ErrBusinessNotFound = errors.New("vt: business not found")

	errMissingBaseURL    = errors.New("vt: base url required")
	errMissingPlatformID = errors.New("vt: platform id required")
	errMissingBusinessID = errors.New("vt: response carried no business id")
)

// StatusError reports an unexpected HTTP status from the VT service.
type StatusError struct {
	Operation  string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vt: %s: unexpected status %d", e.Operation, e.StatusCode)
}

// ClientConfig describes how to reach the VT service.
type ClientConfig struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// CreateBusinessRequest is the payload for registering a business on VT.
type CreateBusinessRequest struct {
	Name       string `json:"name"`
	PlatformID string `json:"platform_id"`
	APIKey     string `json:"api_key"`
}

type businessResponse struct {
	ID string `json:"id"`
}

// Client talks to the VT business-registration API through a circuit breaker.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker[string]
	logger       *zap.Logger
}

// NewClient constructs a VT client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("vt: invalid base url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	client := &Client{
		baseURL:      baseURL,
		serviceToken: strings.TrimSpace(cfg.ServiceToken),
		httpClient:   httpClient,
		logger:       logger,
	}
	client.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "vt",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrBusinessNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("vt circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return client, nil
}

// GetBusinessID returns the VT business id registered for platformID, or
// ErrBusinessNotFound when VT has none.
func (c *Client) GetBusinessID(ctx context.Context, platformID string) (string, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return "", errMissingPlatformID
	}
	endpoint := c.baseURL + "/v1/businesses/by-platform/" + url.PathEscape(platformID)
	return c.breaker.Execute(func() (string, error) {
		return c.do(ctx, "get business", http.MethodGet, endpoint, nil, http.StatusOK)
	})
}

// CreateBusiness registers a business on VT and returns its new id.
func (c *Client) CreateBusiness(ctx context.Context, request CreateBusinessRequest) (string, error) {
	if strings.TrimSpace(request.PlatformID) == "" {
		return "", errMissingPlatformID
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("vt: encode create business: %w", err)
	}
	return c.breaker.Execute(func() (string, error) {
		return c.do(ctx, "create business", http.MethodPost, c.baseURL+"/v1/businesses", payload, http.StatusCreated, http.StatusOK)
	})
}

func (c *Client) do(ctx context.Context, operation, method, endpoint string, body []byte, accepted ...int) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return "", fmt.Errorf("vt: %s: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.serviceToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("vt: %s: %w", operation, err)
	}
	defer response.Body.Close()

	if method == http.MethodGet && response.StatusCode == http.StatusNotFound {
		return "", ErrBusinessNotFound
	}
	if !statusAccepted(response.StatusCode, accepted) {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))
		return "", &StatusError{Operation: operation, StatusCode: response.StatusCode}
	}

	var decoded businessResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("vt: %s: decode response: %w", operation, err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", errMissingBusinessID
	}
	return decoded.ID, nil
}

func statusAccepted(status int, accepted []int) bool {
	for _, code := range accepted {
		if status == code {
			return true
		}
	}
	return false
}
