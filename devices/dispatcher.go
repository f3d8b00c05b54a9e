// Package devices implements the client side of the lab server's device RPC
// convention: a request dispatcher that attaches identity, debug, and bearer
// auth headers (with a single automatic recovery on 401), and the per-device
// client every instrument wrapper is built on.
package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Nonlinear-FOD/lab-client/auth"
	"github.com/Nonlinear-FOD/lab-client/internal/config"
)

// TokenProvider supplies bearer credentials and identity for outbound
// requests. *auth.Manager satisfies it; tests substitute fakes.
type TokenProvider interface {
	AuthorizationHeader(ctx context.Context, forceRefresh bool) (string, error)
	UserLogin() string
	ResetSession() error
}

// Dispatcher executes logical RPC calls against one lab server. It is a
// stateless request emitter: the only recovery it performs is one retry with
// a fresh session when the first attempt comes back 401.
type Dispatcher struct {
	origin     string
	httpClient *http.Client
	auth       TokenProvider
	user       string
	debug      bool
	log        zerolog.Logger
}

type dispatcherSettings struct {
	httpClient *http.Client
	auth       TokenProvider
	authSet    bool
	user       string
	debug      bool
	debugSet   bool
	log        zerolog.Logger
}

// Option configures a Dispatcher (and, transitively, a device Client).
type Option func(*dispatcherSettings)

// WithAuth sets the token provider. WithAuth(nil) disables authentication
// explicitly, overriding the default auto-constructed manager.
func WithAuth(provider TokenProvider) Option {
	return func(s *dispatcherSettings) {
		s.auth = provider
		s.authSet = true
	}
}

// WithUser sets an explicit X-User identity, overriding the login derived
// from the token provider. The server uses it for per-user device locks.
func WithUser(user string) Option {
	return func(s *dispatcherSettings) {
		s.user = user
	}
}

// WithDebug asks the server for detailed error payloads (X-Debug: 1).
func WithDebug(debug bool) Option {
	return func(s *dispatcherSettings) {
		s.debug = debug
		s.debugSet = true
	}
}

// WithHTTPClient replaces the HTTP client. Request timeouts are the client's
// (or the context's) concern.
func WithHTTPClient(client *http.Client) Option {
	return func(s *dispatcherSettings) {
		s.httpClient = client
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *dispatcherSettings) {
		s.log = log
	}
}

// NewDispatcher creates a dispatcher with exactly the given settings; nothing
// is pulled from the environment. Most callers want NewDefaultDispatcher.
func NewDispatcher(origin string, options ...Option) (*Dispatcher, error) {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return nil, errors.New("[devices.NewDispatcher] origin is required")
	}
	s := applySettings(options)
	return &Dispatcher{
		origin:     origin,
		httpClient: s.httpClient,
		auth:       s.auth,
		user:       s.user,
		debug:      s.debug,
		log:        s.log,
	}, nil
}

// NewDefaultDispatcher creates a dispatcher wired the way device clients
// expect: unless authentication was configured explicitly or disabled via
// LAB_CLIENT_DISABLE_AUTH, an auth.Manager for the origin is constructed, and
// the debug default comes from LAB_CLIENT_DEBUG.
func NewDefaultDispatcher(origin string, options ...Option) (*Dispatcher, error) {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return nil, errors.New("[devices.NewDefaultDispatcher] origin is required")
	}
	s := applySettings(options)

	env, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if !s.authSet && !env.DisableAuth {
		manager, err := auth.New(origin, auth.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		s.auth = manager
	}
	if !s.debugSet {
		s.debug = env.Debug
	}
	return &Dispatcher{
		origin:     origin,
		httpClient: s.httpClient,
		auth:       s.auth,
		user:       s.user,
		debug:      s.debug,
		log:        s.log,
	}, nil
}

func applySettings(options []Option) *dispatcherSettings {
	s := &dispatcherSettings{
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	return s
}

// Origin returns the normalized server origin.
func (d *Dispatcher) Origin() string {
	return d.origin
}

// Do executes one request, retrying exactly once with a freshly built
// session when the first attempt returns 401 and auth is configured. The
// second 401 is returned to the caller untouched. Building headers may block
// on token refresh or interactive login.
func (d *Dispatcher) Do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := d.execute(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && d.auth != nil && attempt == 0 {
			resp.Body.Close()
			d.log.Debug().Str("url", url).Msg("unauthorized, resetting session and retrying once")
			if err := d.auth.ResetSession(); err != nil {
				return nil, errors.Wrap(err, "[Dispatcher.Do] resetting session after 401")
			}
			continue
		}
		return resp, nil
	}
}

// DoJSON executes the request and normalizes the response via JSONOrError.
func (d *Dispatcher) DoJSON(ctx context.Context, method, url string, body any) (map[string]any, error) {
	resp, err := d.Do(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	return JSONOrError(resp)
}

func (d *Dispatcher) execute(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "[Dispatcher] marshaling request to %s", url)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, "[Dispatcher] building request %s %s", method, url)
	}
	headers, err := d.headers(ctx)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Origin: d.origin, Err: err}
	}
	return resp, nil
}

// headers builds the per-request header set. Rebuilt from scratch on the
// post-401 retry so the Authorization header reflects the fresh session.
func (d *Dispatcher) headers(ctx context.Context) (http.Header, error) {
	h := http.Header{}
	switch {
	case d.user != "":
		h.Set("X-User", d.user)
	case d.auth != nil:
		if login := d.auth.UserLogin(); login != "" {
			h.Set("X-User", login)
		}
	}
	if d.debug {
		h.Set("X-Debug", "1")
	}
	h.Set("X-Request-ID", uuid.NewString())
	if d.auth != nil {
		header, err := d.auth.AuthorizationHeader(ctx, false)
		if err != nil {
			return nil, err
		}
		h.Set("Authorization", header)
	}
	return h, nil
}

// JSONOrError normalizes a lab server response. HTTP errors become
// *ServerError carrying the payload's detail (or the raw body); a success
// must decode as a JSON object.
func JSONOrError(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[devices.JSONOrError] reading response body")
	}
	if resp.StatusCode >= 400 {
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err == nil {
			for _, key := range []string{"detail", "error"} {
				if v, ok := payload[key]; ok {
					return nil, &ServerError{StatusCode: resp.StatusCode, Detail: fmt.Sprintf("%v", v)}
				}
			}
		}
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON response (HTTP %d)", resp.StatusCode)
	}
	return payload, nil
}
