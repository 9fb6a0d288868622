package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/NomadCrew/presence-service/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSession struct {
	userID string
	token  string
	err    error
}

func (s *staticSession) UserID() string { return s.userID }
func (s *staticSession) Token(context.Context) (string, error) {
	return s.token, s.err
}

func TestHTTPPusherPush(t *testing.T) {
	var gotAuth string
	var gotPayload LocationPush

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/location", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, &staticSession{userID: "user-1", token: "tok-123"}, srv.Client())

	acc := 12.5
	err := p.Push(context.Background(), LocationPush{
		TripID:    "trip-1",
		Latitude:  48.85,
		Longitude: 2.35,
		Accuracy:  &acc,
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "trip-1", gotPayload.TripID)
	assert.Equal(t, 48.85, gotPayload.Latitude)
	require.NotNil(t, gotPayload.Accuracy)
	assert.Equal(t, 12.5, *gotPayload.Accuracy)
	assert.Nil(t, gotPayload.Heading)
}

func TestHTTPPusherUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, &staticSession{userID: "user-1", token: "stale"}, srv.Client())
	err := p.Push(context.Background(), LocationPush{TripID: "trip-1"})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.AuthenticationRequiredError, appErr.Type)
}

func TestHTTPPusherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, &staticSession{userID: "user-1", token: "tok"}, srv.Client())
	err := p.Push(context.Background(), LocationPush{TripID: "trip-1"})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.NetworkError, appErr.Type)
}

func TestHTTPPusherNoSession(t *testing.T) {
	p := NewHTTPPusher("http://example.invalid", nil, nil)
	err := p.Push(context.Background(), LocationPush{TripID: "trip-1"})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.AuthenticationRequiredError, appErr.Type)
}

func TestHTTPPusherConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	p := NewHTTPPusher(srv.URL, &staticSession{userID: "user-1", token: "tok"}, nil)
	err := p.Push(context.Background(), LocationPush{TripID: "trip-1"})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.NetworkError, appErr.Type)
}

func TestHTTPPusherRemove(t *testing.T) {
	var gotMethod, gotTrip string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotTrip = body["tripId"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, &staticSession{userID: "user-1", token: "tok"}, srv.Client())
	require.NoError(t, p.Remove(context.Background(), "trip-9"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "trip-9", gotTrip)
}
