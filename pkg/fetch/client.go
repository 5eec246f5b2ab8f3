package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/go-batches/pkg/logging"
)

// Config holds the upstream configuration shared by HTTPPager and HTTPTokens.
type Config struct {
	// BaseURL of the upstream (e.g. "https://api.example.com")
	BaseURL string `yaml:"base_url"`

	// Endpoint path appended to BaseURL (e.g. "/v1/orders")
	Endpoint string `yaml:"endpoint"`

	// UserAgent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string `yaml:"user_agent"`

	// Query parameters sent with every request
	Query url.Values `yaml:"-"`

	// Timeout per request
	Timeout time.Duration `yaml:"timeout"`

	// HTTPClient overrides the default client (for testing)
	HTTPClient *http.Client `yaml:"-"`

	// Logger overrides the component logger
	Logger *zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns a configuration for endpoint with a 30s timeout.
func DefaultConfig(baseURL, endpoint, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		Endpoint:  endpoint,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// requester performs upstream GET requests and decodes JSON array bodies.
type requester struct {
	httpClient *http.Client
	base       *url.URL
	endpoint   string
	query      url.Values
	userAgent  string
	logger     zerolog.Logger
}

func newRequester(cfg Config) (*requester, error) {
	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if cfg.UserAgent == "" {
		return nil, ErrUserAgentRequired
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := logging.NewLogger("fetch")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &requester{
		httpClient: httpClient,
		base:       base,
		endpoint:   base.Path,
		query:      cfg.Query,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// get performs a GET with the given extra query parameters. Responses with a
// status in allow are returned to the caller; other 4xx/5xx responses are
// closed and turned into a *StatusError.
func (r *requester) get(ctx context.Context, params url.Values, allow ...int) (*http.Response, error) {
	u := *r.base
	q := u.Query()
	for key, values := range r.query {
		q[key] = values
	}
	for key, values := range params {
		q[key] = values
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(r.endpoint).Observe(time.Since(startTime).Seconds())
	}()

	r.logger.Debug().
		Str("endpoint", r.endpoint).
		Str("query", u.RawQuery).
		Msg("Executing upstream request")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		class := classify(nil, err)
		httpErrorsTotal.WithLabelValues(string(class)).Inc()
		httpRequestsTotal.WithLabelValues(r.endpoint, "network_error").Inc()
		return nil, &StatusError{
			Endpoint:   r.endpoint,
			ErrorClass: class,
			Message:    "request failed",
			Err:        err,
		}
	}

	status := strconv.Itoa(resp.StatusCode)
	httpRequestsTotal.WithLabelValues(r.endpoint, status).Inc()

	for _, code := range allow {
		if resp.StatusCode == code {
			return resp, nil
		}
	}

	if resp.StatusCode >= 400 {
		class := classify(resp, nil)
		httpErrorsTotal.WithLabelValues(string(class)).Inc()

		r.logger.Warn().
			Str("endpoint", r.endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		return nil, &StatusError{
			Endpoint:   r.endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	return resp, nil
}

// decodeElements reads a JSON array body into a slice and closes the body.
func decodeElements[T any](resp *http.Response) ([]T, error) {
	defer resp.Body.Close()

	var elements []T
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return elements, nil
}
