package sessions

import "github.com/golang-jwt/jwt/v5"

// identityClaims are checked in order when recovering a login name from an
// access token.
var identityClaims = []string{"login", "preferred_username", "sub"}

// loginFromToken pulls an identity claim out of a JWT access token without
// verifying the signature. The value is advisory only (it feeds the X-User
// header and prompts); it is never used to make trust decisions. Opaque
// non-JWT tokens simply yield no login.
func loginFromToken(raw string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", false
	}
	for _, key := range identityClaims {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
