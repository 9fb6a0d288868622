package geo

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/golang-jwt/jwt/v5"
)

// SessionProvider exposes the authenticated identity the sharer runs under.
type SessionProvider interface {
	// UserID returns the authenticated user, or "" when signed out.
	UserID() string
	// Token returns a bearer token valid for at least the next request.
	Token(ctx context.Context) (string, error)
}

// TokenSource fetches a fresh token from the auth backend.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// tokenRefreshMargin is how close to expiry a cached token may get before a
// refresh is forced.
const tokenRefreshMargin = 30 * time.Second

// CachedSession is a SessionProvider that caches the bearer token between
// pushes and refreshes it through a TokenSource shortly before expiry. Expiry
// and subject are read from the token's own claims without verifying the
// signature; verification is the server's job.
type CachedSession struct {
	source TokenSource
	now    func() time.Time

	mu     sync.Mutex
	token  string
	userID string
	expiry time.Time
}

func NewCachedSession(source TokenSource) *CachedSession {
	return &CachedSession{
		source: source,
		now:    time.Now,
	}
}

// UserID returns the subject of the last fetched token, or "" before the
// first fetch.
func (c *CachedSession) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Token returns the cached token while it has more than tokenRefreshMargin of
// life left, otherwise fetches a new one.
func (c *CachedSession) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	if c.source == nil {
		return "", apperrors.AuthenticationRequired("no token source configured")
	}
	token, err := c.source.FetchToken(ctx)
	if err != nil {
		return "", apperrors.AuthenticationRequired("token refresh failed")
	}
	if token == "" {
		return "", apperrors.AuthenticationRequired("token source returned no token")
	}

	c.token = token
	c.expiry, c.userID = inspectToken(token)
	return c.token, nil
}

// Prime seeds the cache with a token obtained out of band, e.g. from the sign
// in response.
func (c *CachedSession) Prime(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiry, c.userID = inspectToken(token)
}

// Clear drops the cached session, e.g. on sign out.
func (c *CachedSession) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.userID = ""
	c.expiry = time.Time{}
}

// inspectToken reads exp and sub from the claims without verification. A
// token that does not parse is treated as already expired so the next Token
// call refreshes it.
func inspectToken(token string) (time.Time, string) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, ""
	}
	var expiry time.Time
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}
	subject, _ := parsed.Claims.GetSubject()
	return expiry, subject
}
