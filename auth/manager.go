// Package auth manages GitHub-backed authentication against a lab server:
// it caches sessions per origin in a shared on-disk store, refreshes access
// tokens ahead of expiry, and falls back to the interactive OAuth2
// device-code flow when no usable credentials remain.
package auth

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Nonlinear-FOD/lab-client/internal/browser"
	"github.com/Nonlinear-FOD/lab-client/internal/config"
	"github.com/Nonlinear-FOD/lab-client/sessions"
)

const defaultHTTPTimeout = 15 * time.Second

// Manager owns the authentication lifecycle for one server origin. The
// in-memory session is advisory; the store is the source of truth and is
// re-read whenever the cache is absent or stale.
type Manager struct {
	origin      string
	store       sessions.Store
	httpClient  *http.Client
	interactive bool
	skew        time.Duration
	out         io.Writer
	openBrowser func(url string) error
	nowTime     func() time.Time
	log         zerolog.Logger

	lock    sync.Mutex
	session *sessions.Session
}

// Option modifies a Manager during construction.
type Option func(*Manager)

// WithStore replaces the default file-backed session store.
func WithStore(store sessions.Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithHTTPClient replaces the HTTP client used for auth endpoints.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithInteractive controls whether the manager may run the device-code flow.
// When disabled, a request that would need a fresh login fails with
// ErrLoginRequired instead of blocking on user interaction.
func WithInteractive(interactive bool) Option {
	return func(m *Manager) {
		m.interactive = interactive
	}
}

// WithSkew sets the expiry safety margin.
func WithSkew(skew time.Duration) Option {
	return func(m *Manager) {
		m.skew = skew
	}
}

// WithOutput redirects the interactive login prompt.
func WithOutput(out io.Writer) Option {
	return func(m *Manager) {
		m.out = out
	}
}

// WithBrowserOpener replaces the best-effort browser launcher.
func WithBrowserOpener(open func(url string) error) Option {
	return func(m *Manager) {
		m.openBrowser = open
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// New creates a manager for the given server origin. Without WithStore the
// session cache lives at LAB_CLIENT_TOKEN_PATH, defaulting to
// ~/.remote_lab_auth.json.
func New(origin string, options ...Option) (*Manager, error) {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return nil, errors.New("[auth.New] origin is required")
	}

	m := &Manager{
		origin:      origin,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		interactive: true,
		skew:        sessions.DefaultSkew,
		out:         os.Stdout,
		openBrowser: browser.Open,
		nowTime:     time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}

	if m.store == nil {
		env, err := config.FromEnv()
		if err != nil {
			return nil, errors.Wrap(err, "[auth.New] reading client environment")
		}
		m.store = sessions.NewFileStore(env.TokenPath, sessions.WithStoreLogger(m.log))
	}
	return m, nil
}

// Origin returns the normalized server origin this manager authenticates.
func (m *Manager) Origin() string {
	return m.origin
}

// AuthorizationHeader returns "Bearer <token>" for a valid session,
// refreshing or re-authenticating as needed. With forceRefresh, any cached or
// stored session is discarded first. May block on network I/O and, in
// interactive mode, on the device-code flow.
func (m *Manager) AuthorizationHeader(ctx context.Context, forceRefresh bool) (string, error) {
	session, err := m.ensureSession(ctx, forceRefresh)
	if err != nil {
		return "", err
	}
	return "Bearer " + session.AccessToken, nil
}

// UserLogin returns the cached identity's login, consulting the store when
// nothing is in memory. It never performs network I/O or interactive login;
// the empty string means no session is available.
func (m *Manager) UserLogin() string {
	m.lock.Lock()
	defer m.lock.Unlock()

	session := m.session
	if session == nil {
		session = m.loadFromStoreLocked()
	}
	if session == nil {
		return ""
	}
	return session.User.Login
}

// ResetSession drops the cached and persisted session for this origin so the
// next call triggers a fresh login.
func (m *Manager) ResetSession() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.clearSessionLocked()
}

// ensureSession implements the lifecycle: in-memory cache, then store, then
// refresh, then interactive login, in that order.
func (m *Manager) ensureSession(ctx context.Context, forceLogin bool) (*sessions.Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if forceLogin {
		if err := m.clearSessionLocked(); err != nil {
			return nil, err
		}
	}

	session := m.session
	if session == nil {
		session = m.loadFromStoreLocked()
	}
	if session != nil && !session.AccessTokenExpired(m.nowTime(), m.skew) {
		m.session = session
		return session, nil
	}

	if session != nil && !session.RefreshTokenExpired(m.nowTime(), m.skew) {
		refreshed, err := m.refresh(ctx, session.RefreshToken)
		if err == nil {
			if err := m.persistLocked(refreshed); err != nil {
				return nil, err
			}
			return refreshed, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) &&
			(httpErr.StatusCode == http.StatusBadRequest || httpErr.StatusCode == http.StatusUnauthorized) {
			// Refresh token rejected: discard and fall through to a fresh
			// login. Any other failure propagates untouched.
			m.log.Debug().Int("status", httpErr.StatusCode).Msg("refresh rejected, discarding session")
			if clearErr := m.clearSessionLocked(); clearErr != nil {
				return nil, clearErr
			}
		} else {
			return nil, err
		}
	}

	if !m.interactive {
		return nil, ErrLoginRequired
	}
	session, err := m.deviceFlow(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.persistLocked(session); err != nil {
		return nil, err
	}
	return session, nil
}

// loadFromStoreLocked pulls this origin's session from the store, discarding
// it when the refresh token is already beyond saving.
func (m *Manager) loadFromStoreLocked() *sessions.Session {
	session, err := m.store.Get(m.origin)
	if err != nil {
		m.log.Debug().Err(err).Msg("loading session from store failed")
		return nil
	}
	if session == nil {
		return nil
	}
	if session.RefreshTokenExpired(m.nowTime(), m.skew) {
		if err := m.clearSessionLocked(); err != nil {
			m.log.Debug().Err(err).Msg("clearing expired session failed")
		}
		return nil
	}
	return session
}

func (m *Manager) persistLocked(session *sessions.Session) error {
	if err := m.store.Put(m.origin, session); err != nil {
		return errors.Wrap(err, "[auth] persisting session")
	}
	m.session = session
	return nil
}

func (m *Manager) clearSessionLocked() error {
	m.session = nil
	if err := m.store.Delete(m.origin); err != nil {
		return errors.Wrap(err, "[auth] clearing session")
	}
	return nil
}

// refresh exchanges a refresh token for a fresh session.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (*sessions.Session, error) {
	var grant sessions.TokenGrant
	err := m.postJSON(ctx, "/auth/token", map[string]string{"refresh_token": refreshToken}, &grant)
	if err != nil {
		return nil, err
	}
	return sessions.Normalize(grant, m.nowTime())
}
