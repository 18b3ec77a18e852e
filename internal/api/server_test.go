package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// No heartbeat yet: the rollup worker simply hasn't run.
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, ts.store.SetHeartbeat(ctx, "rollup", time.Now()))
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, ts.store.SetHeartbeat(ctx, "rollup", time.Now().Add(-time.Hour)))
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "stale")
}

func TestReloadHandler_ReplacesAdGraph(t *testing.T) {
	ts := newTestServer(t)

	empty := func(cols ...string) *sqlmock.Rows { return sqlmock.NewRows(cols) }
	ts.mock.ExpectQuery(`FROM publishers`).WillReturnRows(empty("slug"))
	ts.mock.ExpectQuery(`FROM advertisers`).WillReturnRows(empty("slug"))
	ts.mock.ExpectQuery(`FROM campaigns`).WillReturnRows(empty("slug"))
	ts.mock.ExpectQuery(`FROM flights`).WillReturnRows(empty("slug"))
	ts.mock.ExpectQuery(`FROM advertisements`).WillReturnRows(empty("slug"))
	ts.mock.ExpectQuery(`FROM ad_types`).WillReturnRows(empty("slug"))

	require.NotNil(t, ts.Data.GetPublisher("pub-1"))

	rr := ts.do(httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NoError(t, ts.mock.ExpectationsWereMet())

	// The in-memory graph was swapped wholesale.
	assert.Nil(t, ts.Data.GetPublisher("pub-1"))
}

func TestReloadHandler_FailureKeepsOldGraph(t *testing.T) {
	ts := newTestServer(t)

	ts.mock.ExpectQuery(`FROM publishers`).WillReturnError(context.DeadlineExceeded)

	rr := ts.do(httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotNil(t, ts.Data.GetPublisher("pub-1"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5500"
	assert.Equal(t, "192.0.2.10", clientIP(req).String())

	// The first forwarded hop wins over the connection address.
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 70.41.3.18")
	assert.Equal(t, "203.0.113.5", clientIP(req).String())

	// Garbage in the header falls back to the connection.
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.0.2.10", clientIP(req).String())
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "Token abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", bearerToken(req))
}
