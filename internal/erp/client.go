package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medidesk/clinicflow/internal/observability/metrics"
	"github.com/medidesk/clinicflow/pkg/breaker"
)

// Config holds gateway configuration.
type Config struct {
	// BaseURL is the root of the store's REST API, e.g. https://erp.local/api/v1
	BaseURL string
	// Timeout is the per-request client timeout
	Timeout time.Duration
	// Breaker configures the circuit breaker around store calls
	Breaker breaker.Config
}

// DefaultConfig returns defaults suitable for an on-premise ERP.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
		Breaker: breaker.DefaultConfig("erp-store"),
	}
}

// Client is the single gateway through which every store operation passes.
// It owns plain request/response plumbing (no retries) and one cross-cutting
// concern: a rejected session token tears down the local session via the
// registered hook before the error is returned.
type Client struct {
	baseURL string
	httpc   *http.Client
	brk     *breaker.Breaker
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	mu             sync.RWMutex
	token          string
	onUnauthorized func()
}

// New creates a gateway client.
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("erp: base URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	brk, err := breaker.New(cfg.Breaker, logger)
	if err != nil {
		return nil, fmt.Errorf("erp: create breaker: %w", err)
	}
	if m != nil {
		brk.OnStateChange(func(name string, state breaker.State) {
			m.SetBreakerState(name, string(state))
		})
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		brk:     brk,
		logger:  logger,
		tracer:  otel.Tracer("erp-gateway"),
		metrics: m,
	}, nil
}

// SetToken installs the session bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token, or "" when unauthenticated.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers the session-teardown hook. The hook runs at most
// once per rejected token, before ErrUnauthorized is returned to the caller.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// List returns an ordered page of records from a collection.
func (c *Client) List(ctx context.Context, collection string, q ListQuery) ([]Record, error) {
	vals := url.Values{}
	if q.Filter != "" {
		vals.Set("$filter", q.Filter)
	}
	if q.OrderBy != "" {
		vals.Set("$orderby", q.OrderBy)
	}
	if q.Top > 0 {
		vals.Set("$top", strconv.Itoa(q.Top))
	}
	if q.Expand != "" {
		vals.Set("$expand", q.Expand)
	}

	path := "/models/" + collection
	if len(vals) > 0 {
		path += "?" + vals.Encode()
	}

	var page struct {
		Records []Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &page, true); err != nil {
		return nil, err
	}
	return page.Records, nil
}

// Get returns a single record by id.
func (c *Client) Get(ctx context.Context, collection string, id int) (Record, error) {
	var rec Record
	path := fmt.Sprintf("/models/%s/%d", collection, id)
	if err := c.do(ctx, http.MethodGet, path, nil, &rec, true); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts a record and returns it with the store-assigned id.
func (c *Client) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodPost, "/models/"+collection, fields, &rec, true); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update writes fields onto an existing record. The store also routes its own
// document actions through here, via the reserved "doc-action" field.
func (c *Client) Update(ctx context.Context, collection string, id int, fields Record) error {
	path := fmt.Sprintf("/models/%s/%d", collection, id)
	return c.do(ctx, http.MethodPut, path, fields, nil, true)
}

// Delete removes a record. Only a handful of ledger-style collections allow it.
func (c *Client) Delete(ctx context.Context, collection string, id int) error {
	path := fmt.Sprintf("/models/%s/%d", collection, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

// do executes one request through the circuit breaker. withToken controls
// whether the session token is attached; the auth endpoints negotiate their
// own credentials and must not trigger session teardown on a 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any, withToken bool) error {
	ctx, span := c.tracer.Start(ctx, "erp."+method,
		trace.WithAttributes(
			attribute.String("erp.path", path),
		))
	defer span.End()

	start := time.Now()
	err := c.execute(ctx, method, path, body, out, withToken)
	if c.metrics != nil {
		c.metrics.ObserveStoreRequest(method, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (c *Client) execute(ctx context.Context, method, path string, body, out any, withToken bool) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("erp: marshal body: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("erp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tokenAttached := false
	if withToken {
		if tok := c.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
			tokenAttached = true
		}
	}

	_, err = c.brk.Execute(ctx, func() (any, error) {
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("erp: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if tokenAttached {
				c.invalidateSession()
			}
			return nil, ErrUnauthorized
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode >= 300:
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("erp: %s %s: status %d: %s", method, path, resp.StatusCode, detail)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("erp: decode response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// invalidateSession clears the token and fires the teardown hook once.
func (c *Client) invalidateSession() {
	c.mu.Lock()
	hook := c.onUnauthorized
	hadToken := c.token != ""
	c.token = ""
	c.mu.Unlock()

	if hadToken {
		c.logger.Warn("session token rejected by store, forcing re-authentication")
		if hook != nil {
			hook()
		}
	}
}
