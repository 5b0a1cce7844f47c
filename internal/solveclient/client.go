// Package solveclient talks to a remote MPS solve service.
package solveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/mpsflow/internal/tracing"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/google/uuid"
)

const (
	DefaultTimeLimit = 90.0
	DefaultBatchSize = 1

	// TimeoutBuffer is added to the solve time limit to cover server-side
	// queueing and solver startup.
	TimeoutBuffer = 30 * time.Second
)

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("communicating with solve service at %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("solve service returned status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// DecodeError is a 2xx response whose body is not valid JSON.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("response was not valid JSON: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Result struct {
	StatusCode int
	Response   domain.SolveResponse
	// Raw is the response body exactly as received.
	Raw json.RawMessage
}

type Client struct {
	httpClient *http.Client
	timeLimit  float64
	batchSize  int
}

type Option func(*Client)

func WithTimeLimit(seconds float64) Option {
	return func(c *Client) {
		if seconds > 0 {
			c.timeLimit = seconds
		}
	}
}

func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithHTTPClient replaces the transport. The per-call timeout is still set
// from the time limit.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeLimit:  DefaultTimeLimit,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) TimeLimit() float64 { return c.timeLimit }

// Timeout is the HTTP deadline for one solve call.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeLimit*float64(time.Second)) + TimeoutBuffer
}

// NewRequest builds the wire request for a local model path. Only the base
// name is sent: the service reads the file from its own mount.
func (c *Client) NewRequest(modelPath string) domain.SolveRequest {
	return domain.SolveRequest{
		FileName:  filepath.Base(modelPath),
		TimeLimit: c.timeLimit,
		BatchSize: c.batchSize,
	}
}

// Solve posts one solve request. It is a single attempt.
func (c *Client) Solve(ctx context.Context, modelPath, serverURL string) (*Result, error) {
	body, err := json.Marshal(c.NewRequest(modelPath))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{URL: serverURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	status, raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{Code: status, Body: string(raw)}
	}

	var out domain.SolveResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecodeError{Body: string(raw), Err: err}
	}
	return &Result{StatusCode: status, Response: out, Raw: raw}, nil
}

// Health calls the liveness probe next to the solve endpoint.
func (c *Client) Health(ctx context.Context, serverURL string) (*domain.HealthResponse, error) {
	healthURL, err := HealthURL(serverURL)
	if err != nil {
		return nil, &TransportError{URL: serverURL, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return nil, &TransportError{URL: healthURL, Err: err}
	}
	status, raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Code: status, Body: string(raw)}
	}
	var out domain.HealthResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecodeError{Body: string(raw), Err: err}
	}
	return &out, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("X-Request-Id", uuid.NewString())
	tracing.InjectHeaders(req.Context(), req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	return resp.StatusCode, raw, nil
}

// HealthURL replaces the last path element of a solve URL with "health".
func HealthURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server url %q", serverURL)
	}
	p := strings.TrimSuffix(u.Path, "/")
	if strings.HasSuffix(p, "/solve_mps") {
		p = path.Dir(p)
	}
	u.Path = path.Join("/", p, "health")
	u.RawQuery = ""
	return u.String(), nil
}
