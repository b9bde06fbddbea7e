package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ResourcePath is the scheduler REST resource below the host context path.
const ResourcePath = "/rest/jes/1.0/scheduler"

const maxResponseBodySize = 1 << 20 // 1 MB

// Operation names, used for logging and metrics labels.
const (
	OpStatus                 = "status"
	OpConfigure              = "configure"
	OpStart                  = "start"
	OpPause                  = "pause"
	OpStartWithConfiguration = "start_with_configuration"
	OpDestroyThreadGroup     = "destroy_thread_group"
)

// Status is the scheduler state reported by the remote resource.
type Status struct {
	ExtraThreadsToConfigure int    `json:"extraThreadsToConfigure"`
	ExtraThreadsRunning     int    `json:"extraThreadsRunning"`
	ThreadGroupName         string `json:"threadGroupName"`
	ExtraThreadGroupStarted bool   `json:"extraThreadGroupStarted"`
	DefaultThreadGroup      string `json:"defaultThreadGroup"`
	SchedulerRunning        bool   `json:"schedulerRunning"`
	SchedulerReconfigured   bool   `json:"schedulerReconfigured"`
}

// APIError is returned when the scheduler answers with a non-2xx status.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scheduler %s: %d: %s", e.Op, e.StatusCode, e.Message)
}

// ObserveFunc is called after every request with the operation, its latency
// and the resulting error (nil on success).
type ObserveFunc func(op string, elapsed time.Duration, err error)

// Options configures a Client.
type Options struct {
	BaseURL     string
	ContextPath string
	Timeout     time.Duration
	RatePerSec  int
	Username    string
	Password    string
	Token       string
	HTTPClient  *http.Client
	Observe     ObserveFunc
}

// Client talks to one scheduler REST resource.
type Client struct {
	root     string
	http     *http.Client
	timeout  time.Duration
	limiter  *rate.Limiter
	username string
	password string
	token    string
	observe  ObserveFunc
}

// New creates a Client for the resource at BaseURL+ContextPath+ResourcePath.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{
		root:     strings.TrimRight(opts.BaseURL, "/") + strings.TrimRight(opts.ContextPath, "/") + ResourcePath,
		http:     hc,
		timeout:  opts.Timeout,
		username: opts.Username,
		password: opts.Password,
		token:    opts.Token,
		observe:  opts.Observe,
	}
	if opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	}
	return c
}

// URL returns the resource root this client targets.
func (c *Client) URL() string {
	return c.root
}

// Status fetches the current scheduler status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	body, err := c.do(ctx, OpStatus, http.MethodGet, "", nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("decoding scheduler status: %w", err)
	}
	return st, nil
}

// Configure submits the desired extra thread count. The value is sent as the
// raw request body, exactly as entered.
func (c *Client) Configure(ctx context.Context, raw string) error {
	_, err := c.do(ctx, OpConfigure, http.MethodPost, "", []byte(raw))
	return err
}

// Start resumes the scheduler.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.do(ctx, OpStart, http.MethodPost, "/start", nil)
	return err
}

// Pause puts the scheduler in standby.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, OpPause, http.MethodPost, "/pause", nil)
	return err
}

// StartWithConfiguration starts a new extra thread group using the
// configuration already stored on the server.
func (c *Client) StartWithConfiguration(ctx context.Context) error {
	_, err := c.do(ctx, OpStartWithConfiguration, http.MethodPost, "/startWithConfiguration", nil)
	return err
}

// DestroyThreadGroup asks the scheduler to destroy the named thread group.
// name is sent verbatim as the request body.
func (c *Client) DestroyThreadGroup(ctx context.Context, name string) error {
	_, err := c.do(ctx, OpDestroyThreadGroup, http.MethodDelete, "/destroyThreadGroup", []byte(name))
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) (body []byte, err error) {
	start := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(op, time.Since(start), err)
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scheduler %s: rate limit: %w", op, err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.root+path, reader)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	// Atlassian REST rejects cross-site POST/DELETE without this header.
	req.Header.Set("X-Atlassian-Token", "no-check")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
		slog.Debug("scheduler request failed", "op", op, "url", req.URL.String(), "status", resp.StatusCode, "message", apiErr.Message)
		return nil, apiErr
	}

	slog.Debug("scheduler request completed", "op", op, "url", req.URL.String(), "status", resp.StatusCode, "elapsed", time.Since(start))
	return body, nil
}

// errorMessage extracts the "message" field of an error body. Bodies that
// aren't JSON are returned as text.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" && !json.Valid(body) {
		return text
	}
	return http.StatusText(status)
}
