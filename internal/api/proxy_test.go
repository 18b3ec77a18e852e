package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adengine/internal/offers"
	"github.com/patrickwarner/adengine/internal/token"
)

// armAd sets up the nonce triple as CreateOffer would for adSlug on pub-1.
func (ts *testServer) armAd(t *testing.T, adSlug, nonce string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ts.store.SetNonce(ctx, adSlug, nonce, "view", time.Hour))
	require.NoError(t, ts.store.SetNonce(ctx, adSlug, nonce, "click", time.Hour))
	require.NoError(t, ts.store.SetNoncePublisher(ctx, adSlug, nonce, "pub-1", time.Hour))
}

func proxyRequest(kind, ad, nonce, secret, extraQuery string) *http.Request {
	path := "/proxy/" + kind + "/" + ad + "/" + nonce + "/"
	target := path + "?sig=" + token.SignPath(secret, path)
	if extraQuery != "" {
		target += "&" + extraQuery
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "198.51.100.9:4242"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	return req
}

func TestViewProxy_BillsAndAnswersPixel(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	ts.mock.ExpectExec(`INSERT INTO ad_impressions .+views`).WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectExec(`UPDATE offers SET viewed = TRUE`).WillReturnResult(sqlmock.NewResult(0, 1))

	rr := ts.do(proxyRequest("view", "ad-paid", nonce, "proxy-secret", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, offers.ReasonBilledView, rr.Header().Get("X-Adserver-Reason"))
	assert.Equal(t, "image/gif", rr.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x47, 0x49, 0x46}, rr.Body.Bytes()[:3])
	assert.NoError(t, ts.mock.ExpectationsWereMet())

	// Replay: same pixel, different reason, nothing billed.
	rr = ts.do(proxyRequest("view", "ad-paid", nonce, "proxy-secret", ""))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, offers.ReasonInvalidNonce, rr.Header().Get("X-Adserver-Reason"))
}

func TestViewProxy_BadSignatureLeavesNonceArmed(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	rr := ts.do(proxyRequest("view", "ad-paid", nonce, "wrong-secret", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, offers.ReasonUnknownOffer, rr.Header().Get("X-Adserver-Reason"))

	armed, err := ts.store.PeekNonce(context.Background(), "ad-paid", nonce, "view")
	require.NoError(t, err)
	assert.True(t, armed)
}

func TestViewProxy_PublisherTokenTrafficNeverBills(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	req := proxyRequest("view", "ad-paid", nonce, "proxy-secret", "")
	req.Header.Set("Authorization", "Bearer tok-1")

	rr := ts.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, offers.ReasonKnownUser, rr.Header().Get("X-Adserver-Reason"))
}

func TestViewProxy_Uplift(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	ts.mock.ExpectExec(`UPDATE offers SET uplifted = TRUE`).WillReturnResult(sqlmock.NewResult(0, 1))

	rr := ts.do(proxyRequest("view", "ad-paid", nonce, "proxy-secret", "uplift=1"))
	require.Equal(t, http.StatusOK, rr.Code)
	// Uplift is not a billing outcome, so no reason is reported.
	assert.Empty(t, rr.Header().Get("X-Adserver-Reason"))
	assert.NoError(t, ts.mock.ExpectationsWereMet())

	armed, err := ts.store.PeekNonce(context.Background(), "ad-paid", nonce, "view")
	require.NoError(t, err)
	assert.True(t, armed)
}

func TestClickProxy_BillsAndRedirects(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	// Bill the view first so the click is properly ordered.
	ts.mock.ExpectExec(`INSERT INTO ad_impressions .+views`).WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectExec(`UPDATE offers SET viewed = TRUE`).WillReturnResult(sqlmock.NewResult(0, 1))
	rr := ts.do(proxyRequest("view", "ad-paid", nonce, "proxy-secret", ""))
	require.Equal(t, offers.ReasonBilledView, rr.Header().Get("X-Adserver-Reason"))

	ts.mock.ExpectExec(`INSERT INTO ad_impressions .+clicks`).WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectExec(`UPDATE offers SET clicked = TRUE`).WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectExec(`INSERT INTO clicks`).WillReturnResult(sqlmock.NewResult(0, 1))

	rr = ts.do(proxyRequest("click", "ad-paid", nonce, "proxy-secret", ""))
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, offers.ReasonBilledClick, rr.Header().Get("X-Adserver-Reason"))
	assert.Equal(t, "https://example.com/landing?ea-publisher=pub-1&utm=pub-1", rr.Header().Get("Location"))
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestClickProxy_ClickBeforeViewRedirectsUnbilled(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	rr := ts.do(proxyRequest("click", "ad-paid", nonce, "proxy-secret", ""))
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, offers.ReasonInvalidNonce, rr.Header().Get("X-Adserver-Reason"))
	// Link substitution still has the publisher from the nonce.
	assert.Equal(t, "https://example.com/landing?ea-publisher=pub-1&utm=pub-1", rr.Header().Get("Location"))

	armed, err := ts.store.PeekNonce(context.Background(), "ad-paid", nonce, "click")
	require.NoError(t, err)
	assert.True(t, armed)
}

func TestClickProxy_BadSignatureStillRedirects(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	rr := ts.do(proxyRequest("click", "ad-paid", nonce, "wrong-secret", ""))
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, offers.ReasonUnknownOffer, rr.Header().Get("X-Adserver-Reason"))
	// No publisher is known, so the variables expand to nothing.
	assert.Equal(t, "https://example.com/landing?ea-publisher=&utm=", rr.Header().Get("Location"))
}

func TestClickProxy_UnknownAd(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(proxyRequest("click", "no-such-ad", uuid.New().String(), "proxy-secret", ""))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestViewTimeHandler(t *testing.T) {
	ts := newTestServer(t)
	nonce := uuid.New().String()
	ts.armAd(t, "ad-paid", nonce)

	ts.mock.ExpectExec(`UPDATE offers SET view_time`).WillReturnResult(sqlmock.NewResult(0, 1))
	rr := ts.do(proxyRequest("view-time", "ad-paid", nonce, "proxy-secret", "view_time=42"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, offers.ReasonUpdatedViewTime, rr.Header().Get("X-Adserver-Reason"))
	assert.NoError(t, ts.mock.ExpectationsWereMet())

	rr = ts.do(proxyRequest("view-time", "ad-paid", nonce, "proxy-secret", ""))
	assert.Equal(t, offers.ReasonInvalidViewTime, rr.Header().Get("X-Adserver-Reason"))

	rr = ts.do(proxyRequest("view-time", "ad-paid", nonce, "proxy-secret", "view_time=99999"))
	assert.Equal(t, offers.ReasonInvalidViewTime, rr.Header().Get("X-Adserver-Reason"))
}
