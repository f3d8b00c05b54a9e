package auth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TokenSource adapts the manager to golang.org/x/oauth2 so lab credentials
// can feed any oauth2-aware HTTP stack (oauth2.NewClient, gRPC per-RPC
// credentials, and so on). The returned source refreshes through the manager
// and shares its session cache.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, manager: m}
}

type managerTokenSource struct {
	ctx     context.Context
	manager *Manager
}

func (ts *managerTokenSource) Token() (*oauth2.Token, error) {
	session, err := ts.manager.ensureSession(ts.ctx, false)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  session.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: session.RefreshToken,
		Expiry:       time.Unix(session.AccessTokenExpiresAt, 0),
	}, nil
}
