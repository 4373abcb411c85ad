// Package client provides the catalog HTTP client: one GET per product
// identifier, lenient decoding and classified failures.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/product-catalog-client/pkg/product"
	"github.com/Sternrassler/product-catalog-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Prometheus metrics for catalog client operations.
var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_requests_total",
		Help: "Total catalog product requests by HTTP status",
	}, []string{"status"})

	catalogRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_request_duration_seconds",
		Help:    "Catalog product request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	catalogErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_errors_total",
		Help: "Total catalog fetch failures by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the public catalog the client talks to.
	DefaultBaseURL = "https://dummyjson.com"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 1 << 20

	// maxReasonBytes caps how much of an error body ends up in a reason.
	maxReasonBytes = 256
)

// Client fetches products from the catalog.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalog, without trailing slash.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// MaxIdleConnsPerHost sizes the keep-alive pool for the catalog host.
	MaxIdleConnsPerHost int

	// RateLimit paces outbound requests. Disabled when RequestsPerSecond <= 0.
	RateLimit ratelimit.Config
}

// DefaultConfig returns a default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:             DefaultBaseURL,
		UserAgent:           userAgent,
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 64,
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("%w: user-agent is required", ErrInvalidConfig)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be > 0 (got %s)", ErrInvalidConfig, cfg.Timeout)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := log.With().Str("component", "catalog-client").Logger()

	limiter, err := ratelimit.New(cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// FetchProduct performs exactly one lookup for id. Every failure is a
// *FetchError; nothing is retried or cached.
func (c *Client) FetchProduct(ctx context.Context, id int) (product.Product, error) {
	if id <= 0 {
		return product.Product{}, c.fail(&FetchError{
			ID:     id,
			Class:  ErrorClassInvalid,
			Reason: "identifier must be positive",
		})
	}

	startTime := time.Now()
	defer func() {
		catalogRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return product.Product{}, c.fail(&FetchError{
			ID:     id,
			Class:  ErrorClassTransport,
			Reason: "waiting for rate limiter",
			Err:    err,
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.productURL(id), nil)
	if err != nil {
		return product.Product{}, c.fail(&FetchError{
			ID:     id,
			Class:  ErrorClassTransport,
			Reason: "create request",
			Err:    err,
		})
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		catalogRequestsTotal.WithLabelValues("error").Inc()
		return product.Product{}, c.fail(&FetchError{
			ID:     id,
			Class:  ErrorClassTransport,
			Reason: "request failed",
			Err:    err,
		})
	}
	defer resp.Body.Close()

	catalogRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := "HTTP " + resp.Status
		if detail := readErrorDetail(resp.Body); detail != "" {
			reason += ": " + detail
		}
		return product.Product{}, c.fail(&FetchError{
			ID:         id,
			Class:      ErrorClassStatus,
			StatusCode: resp.StatusCode,
			Reason:     reason,
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return product.Product{}, c.fail(&FetchError{
			ID:         id,
			Class:      ErrorClassTransport,
			StatusCode: resp.StatusCode,
			Reason:     "read body",
			Err:        err,
		})
	}

	p, err := decodeProduct(body, id)
	if err != nil {
		return product.Product{}, c.fail(&FetchError{
			ID:         id,
			Class:      ErrorClassDecode,
			StatusCode: resp.StatusCode,
			Reason:     "decode product",
			Err:        err,
		})
	}

	c.logger.Debug().
		Int("product_id", id).
		Dur("duration", time.Since(startTime)).
		Msg("Product fetched")

	return p, nil
}

// decodeProduct parses body and checks it describes product id.
func decodeProduct(body []byte, id int) (product.Product, error) {
	p, err := product.Decode(body)
	if err != nil {
		return product.Product{}, err
	}
	if p.ID != id {
		return product.Product{}, fmt.Errorf("response is for product %d", p.ID)
	}
	return p, nil
}

// readErrorDetail extracts a short message from an error response body.
// The catalog answers with {"message": "..."} for unknown products.
func readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxReasonBytes))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return ""
}

// fail records metrics and logs for a failed fetch and returns err.
func (c *Client) fail(err *FetchError) error {
	catalogErrorsTotal.WithLabelValues(string(err.Class)).Inc()

	event := c.logger.Debug().
		Int("product_id", err.ID).
		Str("error_class", string(err.Class))
	if err.StatusCode != 0 {
		event = event.Int("status_code", err.StatusCode)
	}
	event.Err(err).Msg("Product fetch failed")

	return err
}

func (c *Client) productURL(id int) string {
	return c.config.BaseURL + "/products/" + strconv.Itoa(id)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimitState reports the pacing limiter's state and whether pacing is
// enabled at all.
func (c *Client) RateLimitState() (ratelimit.State, bool) {
	return c.limiter.State(), c.limiter != nil
}

// BaseURL returns the configured catalog base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}
