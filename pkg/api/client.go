// Package api is the single chokepoint for requests to a Bunsho server.
//
// The Client attaches the bearer credential held by the session store,
// retries transient transport failures, and translates the server's error
// envelope into the closed taxonomy in errors.go. It never mutates the
// session store; acting on an Unauthorized classification is the explorer's
// job.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Galax028/Bunsho/internal/logging"
	"github.com/Galax028/Bunsho/internal/metrics"
	"github.com/Galax028/Bunsho/pkg/protocol"
	"github.com/Galax028/Bunsho/pkg/session"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the API base, e.g. "http://localhost:8000/api". Resolved
	// once at startup; the client never re-reads the environment.
	BaseURL string

	// Session provides the bearer credential. Required.
	Session *session.Store

	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration

	// MaxRetries caps retries of transient transport failures. Classified
	// failures are never retried. Defaults to 2.
	MaxRetries uint64
}

// Client sends authenticated requests to a Bunsho server.
type Client struct {
	baseURL    string
	session    *session.Store
	httpClient *http.Client
	maxRetries uint64
}

// New creates a client. cfg.Session must be non-nil.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		session:    cfg.Session,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}
}

// applyAuth adds the Authorization header when a session token is held.
func (c *Client) applyAuth(req *http.Request) {
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// do sends one request and returns the raw response body on 2xx. Non-2xx
// responses come back as a classified *Error. Network failures and 5xx
// responses without a usable envelope are retried with exponential backoff.
func (c *Client) do(ctx context.Context, op, method, apiPath string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}
	requestID := uuid.NewString()

	attempt := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Request-Id", requestID)
		c.applyAuth(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRequest(op, "network_error", time.Since(start))
			return nil, fmt.Errorf("%s request failed: %w", op, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		duration := time.Since(start)
		metrics.RecordRequest(op, strconv.Itoa(resp.StatusCode), duration)
		logging.Debug("api request",
			zap.String("operation", op),
			zap.String("method", method),
			zap.String("path", apiPath),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", duration),
			zap.String("request_id", requestID))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", op, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		classified := classify(resp.StatusCode, data)
		if resp.StatusCode >= 500 {
			// Server-side trouble is worth another attempt.
			return nil, classified
		}
		return nil, backoff.Permanent(classified)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	return backoff.RetryWithData(attempt, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

// Login exchanges credentials for a session token via POST /auth/login.
// The token is returned, not stored; the caller owns the session lifecycle.
func (c *Client) Login(ctx context.Context, uname, passwd string) (string, error) {
	data, err := c.do(ctx, "login", http.MethodPost, "/auth/login", protocol.LoginRequest{
		Uname:  uname,
		Passwd: passwd,
	})
	if err != nil {
		return "", err
	}
	var res protocol.LoginResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}
	return res.Token, nil
}

// Listing fetches the raw directory listing of a folder within a location
// via GET /core/ls/{location}/{path}. The result is unordered; callers run
// it through the listing package before display.
func (c *Client) Listing(ctx context.Context, location int, folder string) ([]protocol.DirectoryEntry, error) {
	p := fmt.Sprintf("/core/ls/%d/%s", location, escapeFolder(folder))
	data, err := c.do(ctx, "ls", http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	var res protocol.ListingResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse listing response: %w", err)
	}
	return res.Listing, nil
}

// Move moves a file or folder via PATCH /core/mv/{location}/{path}. With
// rename set, newPath is the object's new name instead of a destination
// folder.
func (c *Client) Move(ctx context.Context, location int, folder, newPath string, rename bool) error {
	p := fmt.Sprintf("/core/mv/%d/%s", location, escapeFolder(folder))
	data, err := c.do(ctx, "mv", http.MethodPatch, p, protocol.MoveRequest{
		NewPath: newPath,
		Rename:  rename,
	})
	if err != nil {
		return err
	}
	return checkStatus("move", data)
}

// Remove deletes a file or folder via DELETE /core/rm/{location}/{path}.
func (c *Client) Remove(ctx context.Context, location int, folder string) error {
	p := fmt.Sprintf("/core/rm/%d/%s", location, escapeFolder(folder))
	data, err := c.do(ctx, "rm", http.MethodDelete, p, nil)
	if err != nil {
		return err
	}
	return checkStatus("remove", data)
}

// User fetches a user record via GET /auth/get-user. Querying another user
// requires admin permission, enforced server-side.
func (c *Client) User(ctx context.Context, uname string) (*protocol.User, error) {
	p := "/auth/get-user?" + url.Values{"uname": {uname}}.Encode()
	data, err := c.do(ctx, "get-user", http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	var res protocol.UserResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse user response: %w", err)
	}
	return &res.Body, nil
}

// LogoutAll blacklists the user's outstanding tokens on the server via
// POST /auth/logout-all. The local session is untouched.
func (c *Client) LogoutAll(ctx context.Context) error {
	data, err := c.do(ctx, "logout-all", http.MethodPost, "/auth/logout-all", nil)
	if err != nil {
		return err
	}
	return checkStatus("logout-all", data)
}

// UpdateConfig asks the server to reload its configuration file via
// POST /core/update-cfg. Requires admin permission.
func (c *Client) UpdateConfig(ctx context.Context) error {
	data, err := c.do(ctx, "update-cfg", http.MethodPost, "/core/update-cfg", nil)
	if err != nil {
		return err
	}
	return checkStatus("update-cfg", data)
}

// checkStatus verifies the {"status": "OK"} body of mutation endpoints.
func checkStatus(op string, data []byte) error {
	var res protocol.StatusResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	if res.Status != "OK" {
		return fmt.Errorf("%s returned status %q", op, res.Status)
	}
	return nil
}

// escapeFolder escapes each segment of a folder path for use in a URL path.
// The leading slash is dropped: the endpoint prefix already ends with one.
func escapeFolder(folder string) string {
	segments := strings.Split(strings.TrimPrefix(folder, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
