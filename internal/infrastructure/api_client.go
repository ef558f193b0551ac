package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/pkg/ratelimit"
	"github.com/yourusername/debridget/pkg/retry"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

const defaultAPITimeout = 30 * time.Second

// ErrorParser extracts a human-readable message from a vendor error body.
// It may return a code other than API_ERROR (e.g. NOT_FOUND) or "" to keep
// the default for the HTTP status.
type ErrorParser func(status int, body []byte) (message string, code domain.ErrorCode)

// APIClientConfig configures one vendor API client
type APIClientConfig struct {
	Provider          string
	BaseURL           string
	APIToken          string
	Timeout           time.Duration
	ProxyURL          string
	RequestsPerSecond float64
	BurstSize         int
	Retry             retry.Options
	ErrorParser       ErrorParser
}

// APIClient performs authenticated, rate-limited, retried calls against one
// vendor REST API and converts every failure into a *domain.ProviderError
type APIClient struct {
	provider   string
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      retry.Options
	parseError ErrorParser
	validate   *validator.Validate
	logger     *zap.Logger
}

type apiRequest struct {
	Method    string
	Path      string
	Query     url.Values
	Form      url.Values
	Multipart bool
	JSON      interface{}
}

type apiResponse struct {
	StatusCode int
	Body       []byte
}

// NewAPIClient creates a vendor API client
func NewAPIClient(cfg APIClientConfig, logger *zap.Logger) (*APIClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("failed to configure proxy for %s: %w", cfg.Provider, err)
		}
	}

	opts := cfg.Retry
	if opts.RetryableErrors == nil {
		opts.RetryableErrors = []string{string(domain.ErrCodeTimeout), string(domain.ErrCodeNetwork)}
	}

	parser := cfg.ErrorParser
	if parser == nil {
		parser = defaultErrorParser
	}

	c := &APIClient{
		provider:   cfg.Provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		timeout:    timeout,
		httpClient: &http.Client{Transport: transport},
		limiter:    ratelimit.New(cfg.RequestsPerSecond, cfg.BurstSize),
		parseError: parser,
		validate:   validator.New(),
		logger:     logger.With(zap.String("provider", cfg.Provider)),
	}

	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("Retrying vendor request",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", c.redact(err.Error())))
	}
	c.retry = opts

	return c, nil
}

// configureProxy sets up an http, https or socks5 proxy on the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// Token returns the API token for vendors that also expect it as a query parameter
func (c *APIClient) Token() string {
	return c.token
}

// Limiter exposes the client's private rate limiter
func (c *APIClient) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// do sends the request through the limiter and the retry policy
func (c *APIClient) do(ctx context.Context, req apiRequest) (*apiResponse, error) {
	resp, err := retry.DoValue(ctx, c.retry, func(ctx context.Context) (*apiResponse, error) {
		var resp *apiResponse
		err := c.limiter.Execute(ctx, func() error {
			var sendErr error
			resp, sendErr = c.send(ctx, req)
			return sendErr
		})
		if err != nil && domain.CodeOf(err) == "" {
			return nil, c.transportError(err)
		}
		return resp, err
	})
	if err == nil {
		return resp, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		var pe *domain.ProviderError
		if errors.As(exhausted.LastError, &pe) {
			return nil, &domain.ProviderError{
				Provider:   pe.Provider,
				Code:       pe.Code,
				Message:    fmt.Sprintf("%s (after %d attempts)", pe.Message, exhausted.Attempts),
				StatusCode: pe.StatusCode,
				Err:        exhausted,
			}
		}
	}
	if domain.CodeOf(err) == "" {
		return nil, c.transportError(err)
	}
	return nil, err
}

// send performs a single HTTP round trip bounded by the client timeout
func (c *APIClient) send(ctx context.Context, req apiRequest) (*apiResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + req.Path
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, domain.NewProviderError(c.provider, domain.ErrCodeUnknown, "failed to encode request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, domain.NewProviderError(c.provider, domain.ErrCodeUnknown, "failed to create request")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(err)
	}

	c.logger.Debug("Vendor request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message, code := c.parseError(resp.StatusCode, respBody)
		if code == "" {
			code = domain.ErrCodeAPI
		}
		if message == "" {
			message = fmt.Sprintf("API error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return nil, domain.NewProviderError(c.provider, code, c.redact(message)).WithStatus(resp.StatusCode)
	}

	return &apiResponse{StatusCode: resp.StatusCode, Body: respBody}, nil
}

func encodeBody(req apiRequest) (io.Reader, string, error) {
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	case req.Form != nil && req.Multipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for key, values := range req.Form {
			for _, v := range values {
				if err := w.WriteField(key, v); err != nil {
					return nil, "", err
				}
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	case req.Form != nil:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

// transportError classifies a failed round trip
func (c *APIClient) transportError(err error) *domain.ProviderError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewProviderError(c.provider, domain.ErrCodeTimeout,
			fmt.Sprintf("request timed out after %s", c.timeout)).WithCause(err)
	case errors.Is(err, context.Canceled):
		return domain.NewProviderError(c.provider, domain.ErrCodeUnknown, "request cancelled").WithCause(err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewProviderError(c.provider, domain.ErrCodeTimeout,
			fmt.Sprintf("request timed out after %s", c.timeout)).WithCause(err)
	case errors.As(err, &netErr):
		return domain.NewProviderError(c.provider, domain.ErrCodeNetwork,
			"network error: "+c.redact(err.Error()))
	default:
		return domain.NewProviderError(c.provider, domain.ErrCodeUnknown,
			"unexpected error: "+c.redact(err.Error()))
	}
}

// decode unmarshals a vendor response and validates its schema
func (c *APIClient) decode(resp *apiResponse, v interface{}) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return domain.NewProviderError(c.provider, domain.ErrCodeAPI, "invalid response from vendor").
			WithStatus(resp.StatusCode).WithCause(err)
	}
	if err := c.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return domain.NewProviderError(c.provider, domain.ErrCodeAPI,
			"unexpected response schema: "+err.Error()).WithStatus(resp.StatusCode)
	}
	return nil
}

var secretParams = regexp.MustCompile(`(?i)((?:token|api_key|apikey|access_token)=)[^&\s"]+`)
var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)\S+`)

// redact strips the API token and credential-looking fragments from s
func (c *APIClient) redact(s string) string {
	return redactSecret(s, c.token)
}

func redactSecret(s, token string) string {
	if token != "" {
		s = strings.ReplaceAll(s, token, "[REDACTED]")
		if escaped := url.QueryEscape(token); escaped != token {
			s = strings.ReplaceAll(s, escaped, "[REDACTED]")
		}
	}
	s = secretParams.ReplaceAllString(s, "${1}[REDACTED]")
	s = bearerPattern.ReplaceAllString(s, "${1}[REDACTED]")
	return s
}

func defaultErrorParser(status int, body []byte) (string, domain.ErrorCode) {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	code := domain.ErrCodeAPI
	if status == http.StatusNotFound {
		code = domain.ErrCodeNotFound
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", code
	}
	for _, msg := range []string{payload.Detail, payload.Message, payload.Error} {
		if msg != "" {
			return msg, code
		}
	}
	return "", code
}
