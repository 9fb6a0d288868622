package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/NomadCrew/presence-service/logger"
	"go.uber.org/zap"
)

// HTTPPusher delivers location updates to the presence API over HTTPS with a
// bearer token from the session. A fresh token is requested per push so that
// a refresh between pushes is picked up automatically.
type HTTPPusher struct {
	log     *zap.SugaredLogger
	client  *http.Client
	baseURL string
	session SessionProvider
}

// NewHTTPPusher creates a pusher against baseURL (no trailing slash). The
// client's own timeout is left to the per-push context.
func NewHTTPPusher(baseURL string, session SessionProvider, client *http.Client) *HTTPPusher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPusher{
		log:     logger.GetLogger().Named("geo_pusher"),
		client:  client,
		baseURL: baseURL,
		session: session,
	}
}

// Push sends one update via PUT /v1/location. Failures are mapped onto the
// sharing taxonomy: missing or unrefreshable sessions become
// AuthenticationRequired, everything else a network error.
func (p *HTTPPusher) Push(ctx context.Context, update LocationPush) error {
	if p.session == nil {
		return apperrors.AuthenticationRequired("no active session")
	}
	token, err := p.session.Token(ctx)
	if err != nil || token == "" {
		return apperrors.AuthenticationRequired("session token unavailable")
	}

	body, err := json.Marshal(update)
	if err != nil {
		return apperrors.NewNetworkError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.baseURL+"/v1/location", bytes.NewReader(body))
	if err != nil {
		return apperrors.NewNetworkError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.AuthenticationRequired("session rejected by server")
	case resp.StatusCode >= 300:
		p.log.Warnw("Location push rejected", "status", resp.StatusCode)
		return apperrors.NewNetworkError(fmt.Errorf("location push failed with status %d", resp.StatusCode))
	}
	return nil
}

// Remove tells the server to drop the user's row for the trip, used when the
// device stops sharing cleanly. Best effort: a failed remove leaves the row
// to age out via staleness.
func (p *HTTPPusher) Remove(ctx context.Context, tripID string) error {
	if p.session == nil {
		return apperrors.AuthenticationRequired("no active session")
	}
	token, err := p.session.Token(ctx)
	if err != nil || token == "" {
		return apperrors.AuthenticationRequired("session token unavailable")
	}

	body, err := json.Marshal(map[string]string{"tripId": tripID})
	if err != nil {
		return apperrors.NewNetworkError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/v1/location", bytes.NewReader(body))
	if err != nil {
		return apperrors.NewNetworkError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return apperrors.NewNetworkError(fmt.Errorf("location remove failed with status %d", resp.StatusCode))
	}
	return nil
}
