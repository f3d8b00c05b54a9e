package devices_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nonlinear-FOD/lab-client/devices"
)

// fakeProvider is a scripted TokenProvider recording how often the
// dispatcher asked for headers and reset the session.
type fakeProvider struct {
	mu          sync.Mutex
	login       string
	token       string
	headerCalls int
	resetCalls  int
}

func (f *fakeProvider) AuthorizationHeader(ctx context.Context, forceRefresh bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.headerCalls++
	return "Bearer " + f.token, nil
}

func (f *fakeProvider) UserLogin() string {
	return f.login
}

func (f *fakeProvider) ResetSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resetCalls++
	f.token = "rotated-token"
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestSingleRetryOn401(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token expired"})
	}))
	t.Cleanup(server.Close)

	provider := &fakeProvider{login: "octocat", token: "stale-token"}
	d, err := devices.NewDispatcher(server.URL, devices.WithAuth(provider))
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/devices/osa_1/span", nil)
	var serverErr *devices.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, http.StatusUnauthorized, serverErr.StatusCode)

	// Exactly two attempts, exactly one reset, headers rebuilt per attempt.
	require.Equal(t, 2, attempts)
	require.Equal(t, 1, provider.resetCalls)
	require.Equal(t, 2, provider.headerCalls)
}

func TestRetryRecoversAfterReset(t *testing.T) {
	attempts := 0
	var seenTokens []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		seenTokens = append(seenTokens, r.Header.Get("Authorization"))
		if attempts == 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": 0.5})
	}))
	t.Cleanup(server.Close)

	provider := &fakeProvider{token: "stale-token"}
	d, err := devices.NewDispatcher(server.URL, devices.WithAuth(provider))
	require.NoError(t, err)

	payload, err := d.DoJSON(context.Background(), http.MethodGet, server.URL+"/devices/osa_1/span", nil)
	require.NoError(t, err)
	require.Equal(t, 0.5, payload["value"])

	require.Equal(t, 1, provider.resetCalls)
	require.Equal(t, []string{"Bearer stale-token", "Bearer rotated-token"}, seenTokens)
}

func TestNoRetryWithoutAuth(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "auth required"})
	}))
	t.Cleanup(server.Close)

	d, err := devices.NewDispatcher(server.URL)
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/devices/osa_1/span", nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestHeaderConstruction(t *testing.T) {
	var headers []http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Clone())
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(server.Close)

	provider := &fakeProvider{login: "octocat", token: "access-1"}
	d, err := devices.NewDispatcher(
		server.URL,
		devices.WithAuth(provider),
		devices.WithUser("labuser"),
		devices.WithDebug(true),
	)
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)
	require.NoError(t, err)
	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)
	require.NoError(t, err)

	require.Len(t, headers, 2)
	// Explicit user overrides the provider's login.
	require.Equal(t, "labuser", headers[0].Get("X-User"))
	require.Equal(t, "1", headers[0].Get("X-Debug"))
	require.Equal(t, "Bearer access-1", headers[0].Get("Authorization"))
	require.NotEmpty(t, headers[0].Get("X-Request-ID"))
	require.NotEqual(t, headers[0].Get("X-Request-ID"), headers[1].Get("X-Request-ID"))
}

func TestUserHeaderFallsBackToProviderLogin(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(server.Close)

	provider := &fakeProvider{login: "octocat", token: "access-1"}
	d, err := devices.NewDispatcher(server.URL, devices.WithAuth(provider))
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)
	require.NoError(t, err)
	require.Equal(t, "octocat", got.Get("X-User"))
}

func TestAnonymousRequestOmitsIdentityHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(server.Close)

	d, err := devices.NewDispatcher(server.URL)
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)
	require.NoError(t, err)
	require.Empty(t, got.Values("X-User"))
	require.Empty(t, got.Values("X-Debug"))
	require.Empty(t, got.Values("Authorization"))
}

func TestDisableAuthEnvironment(t *testing.T) {
	t.Setenv("LAB_CLIENT_DISABLE_AUTH", "true")

	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	t.Cleanup(server.Close)

	d, err := devices.NewDefaultDispatcher(server.URL)
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)
	require.NoError(t, err)
	require.Empty(t, got.Values("Authorization"))
}

func TestConnectivityError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	origin := server.URL
	server.Close()

	d, err := devices.NewDispatcher(origin)
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, origin+"/devices/osa_1/span", nil)
	var connErr *devices.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, origin, connErr.Origin)
	require.Contains(t, err.Error(), origin)
}

func TestJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantDetail string
	}{
		{
			name:       "detail field",
			status:     http.StatusBadRequest,
			body:       `{"detail": "device lock held by bob"}`,
			wantErr:    "server error: device lock held by bob",
			wantDetail: "device lock held by bob",
		},
		{
			name:       "error field",
			status:     http.StatusConflict,
			body:       `{"error": "already connected"}`,
			wantErr:    "server error: already connected",
			wantDetail: "already connected",
		},
		{
			name:    "uninformative body",
			status:  http.StatusBadGateway,
			body:    "<html>bad gateway</html>",
			wantErr: "HTTP 502: <html>bad gateway</html>",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(server.Close)

			d, err := devices.NewDispatcher(server.URL)
			require.NoError(t, err)
			_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)

			var serverErr *devices.ServerError
			require.ErrorAs(t, err, &serverErr)
			require.Equal(t, tc.status, serverErr.StatusCode)
			require.Equal(t, tc.wantDetail, serverErr.Detail)
			require.Equal(t, tc.wantErr, serverErr.Error())
		})
	}
}

func TestNonJSONSuccessIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	t.Cleanup(server.Close)

	d, err := devices.NewDispatcher(server.URL)
	require.NoError(t, err)

	_, err = d.DoJSON(context.Background(), http.MethodGet, server.URL+"/x", nil)
	require.ErrorContains(t, err, "invalid JSON response")
}
