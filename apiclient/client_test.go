package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/choirapp/apiclient"
	"github.com/jrsteele09/choirapp/internal/errors"
	"github.com/stretchr/testify/require"
)

type rehearsal struct {
	ID    string `json:"id"`
	Venue string `json:"venue"`
}

type testBackend struct {
	server     *httptest.Server
	authHeader atomic.Value
	status     atomic.Int32
	requests   atomic.Int32
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}
	b.status.Store(http.StatusOK)
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		b.authHeader.Store(r.Header.Get("Authorization"))
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "json only", http.StatusUnsupportedMediaType)
			return
		}

		status := int(b.status.Load())
		if status != http.StatusOK {
			http.Error(w, "denied", status)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/rehearsals/42":
			_ = json.NewEncoder(w).Encode(rehearsal{ID: "42", Venue: "St Mary's"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/rehearsals":
			var in rehearsal
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			in.ID = "43"
			_ = json.NewEncoder(w).Encode(in)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func TestClient_GetJSON(t *testing.T) {
	b := newTestBackend(t)
	c, err := apiclient.New(apiclient.Config{
		BaseURL: b.server.URL + "/api/",
		Timeout: time.Second,
		Source:  apiclient.TokenSourceFunc(func() string { return "access-1" }),
	})
	require.NoError(t, err)

	var got rehearsal
	require.NoError(t, c.GetJSON(context.Background(), "rehearsals/42", &got))
	require.Equal(t, rehearsal{ID: "42", Venue: "St Mary's"}, got)
	require.Equal(t, "Bearer access-1", b.authHeader.Load())
}

func TestClient_Do(t *testing.T) {
	b := newTestBackend(t)
	c, err := apiclient.New(apiclient.Config{
		BaseURL: b.server.URL + "/api",
		Timeout: time.Second,
		Source:  apiclient.TokenSourceFunc(func() string { return "access-1" }),
	})
	require.NoError(t, err)

	var created rehearsal
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/rehearsals", rehearsal{Venue: "Town Hall"}, &created))
	require.Equal(t, rehearsal{ID: "43", Venue: "Town Hall"}, created)
}

func TestClient_SignedOutSendsNoAuthorization(t *testing.T) {
	b := newTestBackend(t)
	c, err := apiclient.New(apiclient.Config{
		BaseURL: b.server.URL + "/api",
		Source:  apiclient.TokenSourceFunc(func() string { return "" }),
	})
	require.NoError(t, err)

	require.NoError(t, c.GetJSON(context.Background(), "rehearsals/42", &rehearsal{}))
	require.Equal(t, "", b.authHeader.Load())
}

func TestClient_Unauthorized(t *testing.T) {
	b := newTestBackend(t)
	b.status.Store(http.StatusUnauthorized)

	var hooks atomic.Int32
	c, err := apiclient.New(apiclient.Config{
		BaseURL:        b.server.URL + "/api",
		Source:         apiclient.TokenSourceFunc(func() string { return "expired" }),
		OnUnauthorized: func() { hooks.Add(1) },
	})
	require.NoError(t, err)

	err = c.GetJSON(context.Background(), "rehearsals/42", &rehearsal{})
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	require.NotErrorIs(t, err, errors.ErrRequest)

	var statusErr *apiclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	require.Equal(t, int32(1), hooks.Load())
	require.Equal(t, int32(1), b.requests.Load(), "request must not be replayed")
}

func TestClient_Errors(t *testing.T) {
	b := newTestBackend(t)
	c, err := apiclient.New(apiclient.Config{BaseURL: b.server.URL + "/api", Timeout: time.Second})
	require.NoError(t, err)

	t.Run("not found", func(t *testing.T) {
		err := c.GetJSON(context.Background(), "songs", &rehearsal{})
		require.ErrorIs(t, err, errors.ErrRequest)
		require.NotErrorIs(t, err, errors.ErrUnauthorized)
	})

	t.Run("unreachable", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()
		c, err := apiclient.New(apiclient.Config{BaseURL: closed.URL})
		require.NoError(t, err)
		require.ErrorIs(t, c.GetJSON(context.Background(), "songs", &rehearsal{}), errors.ErrRequest)
	})

	t.Run("invalid base url", func(t *testing.T) {
		_, err := apiclient.New(apiclient.Config{BaseURL: "not a url"})
		require.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
}

func TestBearerTransport_DoesNotModifyRequest(t *testing.T) {
	b := newTestBackend(t)
	client := &http.Client{Transport: &apiclient.BearerTransport{
		Source: apiclient.TokenSourceFunc(func() string { return "access-1" }),
	}}

	req, err := http.NewRequest(http.MethodGet, b.server.URL+"/api/rehearsals/42", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, req.Header.Get("Authorization"))
	require.Equal(t, "Bearer access-1", b.authHeader.Load())
}
