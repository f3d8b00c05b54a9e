// Package sessions holds the credential data model shared by the auth manager
// and the on-disk session cache.
package sessions

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Nonlinear-FOD/lab-client/internal/utils"
)

// DefaultSkew is the safety margin subtracted from a token's nominal expiry
// so a token about to lapse is never used mid-request.
const DefaultSkew = 30 * time.Second

// User identifies the account a session was minted for.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

// Session is the bearer credential pair cached per server origin, with
// absolute expiry timestamps (seconds since epoch). A session is never
// mutated in place; refresh and login replace it wholesale.
type Session struct {
	User                  User   `json:"user"`
	IssuedAt              int64  `json:"issued_at"`
	AccessToken           string `json:"access_token"`
	AccessTokenExpiresAt  int64  `json:"access_token_expires_at"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at"`
}

// Expired reports whether a unix expiry timestamp falls within skew of now.
// A zero timestamp counts as expired.
func Expired(expiresAt int64, now time.Time, skew time.Duration) bool {
	if expiresAt == 0 {
		return true
	}
	return expiresAt <= now.Add(skew).Unix()
}

// AccessTokenExpired reports whether the access token is unusable, within skew.
func (s *Session) AccessTokenExpired(now time.Time, skew time.Duration) bool {
	return Expired(s.AccessTokenExpiresAt, now, skew)
}

// RefreshTokenExpired reports whether the refresh token is unusable, within
// skew. Once it is, the whole session must be discarded.
func (s *Session) RefreshTokenExpired(now time.Time, skew time.Duration) bool {
	return Expired(s.RefreshTokenExpiresAt, now, skew)
}

// TokenGrant is the raw payload returned by the token and device poll
// endpoints: relative token lifetimes plus an optional user object.
type TokenGrant struct {
	User                  *User  `json:"user,omitempty"`
	IssuedAt              int64  `json:"issued_at,omitempty"`
	AccessToken           string `json:"access_token"`
	AccessTokenExpiresIn  int64  `json:"access_token_expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}

// Normalize converts a raw grant into a Session, resolving relative expiries
// to absolute timestamps at the moment of receipt. When the grant carries no
// user object, an identity claim is pulled from the access token as a
// fallback so UserLogin keeps working.
func Normalize(grant TokenGrant, now time.Time) (*Session, error) {
	if grant.AccessToken == "" {
		return nil, errors.New("[sessions.Normalize] grant has no access token")
	}
	issued := grant.IssuedAt
	if issued == 0 {
		issued = now.Unix()
	}
	user := utils.Value(grant.User)
	if user.Login == "" {
		if login, ok := loginFromToken(grant.AccessToken); ok {
			user.Login = login
		}
	}
	return &Session{
		User:                  user,
		IssuedAt:              issued,
		AccessToken:           grant.AccessToken,
		AccessTokenExpiresAt:  issued + grant.AccessTokenExpiresIn,
		RefreshToken:          grant.RefreshToken,
		RefreshTokenExpiresAt: issued + grant.RefreshTokenExpiresIn,
	}, nil
}
