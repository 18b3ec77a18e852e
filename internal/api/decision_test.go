package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/analytics"
	"github.com/patrickwarner/adengine/internal/config"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/logic/selectors"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
	"github.com/patrickwarner/adengine/internal/offers"
)

type testServer struct {
	*Server
	mock   sqlmock.Sqlmock
	mr     *miniredis.Miniredis
	store  *db.RedisStore
	events *analytics.MockAnalytics
}

func apiTestData(t *testing.T) *models.InMemoryAdDataStore {
	t.Helper()
	now := time.Now().UTC()

	pubs := []models.Publisher{
		{Slug: "pub-1", Token: "tok-1", AllowPaidCampaigns: true, AllowHouseCampaigns: true},
		{Slug: "pub-2", Token: "tok-2", AllowHouseCampaigns: true},
		{Slug: "pub-open", UnauthedAdDecisions: true, AllowHouseCampaigns: true},
		{Slug: "pub-off", Token: "tok-off", Disabled: true},
	}
	advertisers := []models.Advertiser{{Slug: "adv-1"}}
	campaigns := []models.Campaign{
		{Slug: "c-paid", AdvertiserSlug: "adv-1", Type: models.CampaignPaid},
		{Slug: "c-house", AdvertiserSlug: "adv-1", Type: models.CampaignHouse},
	}
	flights := []models.Flight{
		{
			Slug: "f-paid", CampaignSlug: "c-paid", Live: true,
			StartDate: now.AddDate(0, 0, -1), EndDate: now.AddDate(0, 0, 30),
			CPC: decimal.NewFromInt(2), SoldClicks: 500,
		},
		{
			Slug: "f-house", CampaignSlug: "c-house", Live: true,
			StartDate: now.AddDate(0, 0, -1), EndDate: now.AddDate(0, 0, 30),
			CPC: decimal.NewFromFloat(0.01), SoldClicks: 10000,
		},
	}
	ads := []models.Advertisement{
		{
			Slug: "ad-paid", FlightSlug: "f-paid", Live: true,
			Link: "https://example.com/landing?utm=${publisher}", AdTypes: []string{"sidebar"},
		},
		{
			Slug: "ad-house", FlightSlug: "f-house", Live: true,
			Link: "https://example.com/", AdTypes: []string{"sidebar"},
		},
	}

	store := models.NewInMemoryAdDataStore()
	require.NoError(t, store.ReloadAll(pubs, advertisers, campaigns, flights, ads, nil))
	return store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	pg := db.NewPostgresFromDB(mockDB, "offers")

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := db.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	data := apiTestData(t)
	geo := logic.NewGeography()
	pacer := logic.NewPacer(store, nil, 0)
	events := analytics.NewMockAnalytics()
	metrics := observability.NewNoOpRegistry()

	cfg := config.Config{
		// Generous enough that a loaded CI box never trips it.
		DecisionTimeout:    time.Second,
		ProxySecret:        "proxy-secret",
		ClientIDSecret:     "cid-secret",
		NonceTTL:           time.Hour,
		HeartbeatThreshold: 15 * time.Minute,
		MaxViewTime:        600,
	}

	s := &Server{
		Logger: zap.NewNop(),
		Redis:  store,
		PG:     pg,
		GeoIP:  nil,
		Data:   data,
		Selector: selectors.NewTieredSelector(data, pacer, geo, nil, 0),
		Ledger: &offers.Ledger{
			PG: pg, Redis: store, Analytics: events, Metrics: metrics,
			BaseURL: "http://ads.test", ProxySecret: cfg.ProxySecret, NonceTTL: cfg.NonceTTL,
		},
		Tracker: &offers.Tracker{
			PG: pg, Redis: store, Data: data, Analytics: events, Metrics: metrics,
			Blocklist: logic.NewBlocklist(), Geo: geo, MaxViewTime: cfg.MaxViewTime,
		},
		Analytics: events,
		Blocklist: logic.NewBlocklist(),
		Geography: geo,
		Metrics:   metrics,
		Config:    cfg,
	}
	return &testServer{Server: s, mock: mock, mr: mr, store: store, events: events}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.Router().ServeHTTP(rr, req)
	return rr
}

func decisionRequest(t *testing.T, body interface{}, token string) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/decision/", bytes.NewReader(raw))
	req.RemoteAddr = "198.51.100.9:4242"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func sidebarBody(publisher string) map[string]interface{} {
	return map[string]interface{}{
		"publisher":  publisher,
		"placements": []map[string]interface{}{{"div_id": "d1", "ad_type": "sidebar"}},
	}
}

func expectOfferWrites(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+decisions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+offers`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestDecision_ServesPaidAd(t *testing.T) {
	ts := newTestServer(t)
	expectOfferWrites(ts.mock)

	rr := ts.do(decisionRequest(t, sidebarBody("pub-1"), "tok-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NoError(t, ts.mock.ExpectationsWereMet())

	var payload offers.Payload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "ad-paid", payload.ID)
	assert.Equal(t, models.CampaignPaid, payload.CampaignType)
	assert.Equal(t, "d1", payload.DivID)

	// The nonce is a real offer id with all three keys armed.
	_, err := uuid.Parse(payload.Nonce)
	require.NoError(t, err)
	assert.True(t, ts.mr.Exists("offer:ad-paid:"+payload.Nonce+":view"))
	assert.True(t, ts.mr.Exists("offer:ad-paid:"+payload.Nonce+":click"))
	assert.True(t, ts.mr.Exists("offer:ad-paid:"+payload.Nonce+":publisher"))

	assert.True(t, strings.HasPrefix(payload.ViewURL, "http://ads.test/proxy/view/ad-paid/"), payload.ViewURL)
	assert.True(t, strings.HasPrefix(payload.ClickURL, "http://ads.test/proxy/click/ad-paid/"), payload.ClickURL)
}

func TestDecision_NoMatchReturnsEmptyObject(t *testing.T) {
	ts := newTestServer(t)

	// Nothing serves the banner type, so a null offer is recorded.
	ts.mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectExec(`INSERT INTO ad_impressions .+decisions`).WillReturnResult(sqlmock.NewResult(0, 1))

	body := map[string]interface{}{
		"publisher":  "pub-1",
		"placements": []map[string]interface{}{{"div_id": "d1", "ad_type": "banner"}},
	}
	rr := ts.do(decisionRequest(t, body, "tok-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{}`, rr.Body.String())
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestDecision_Auth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(decisionRequest(t, sidebarBody("pub-1"), ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(decisionRequest(t, sidebarBody("pub-1"), "no-such-token"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// A valid token for a different publisher is rejected, not ignored.
	rr = ts.do(decisionRequest(t, sidebarBody("pub-1"), "tok-2"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDecision_UnauthedPublisherNeedsNoToken(t *testing.T) {
	ts := newTestServer(t)
	expectOfferWrites(ts.mock)

	rr := ts.do(decisionRequest(t, sidebarBody("pub-open"), ""))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var payload offers.Payload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	// Paid is off for this publisher, so the house tier serves.
	assert.Equal(t, "ad-house", payload.ID)
}

func TestDecision_PublisherChecks(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(decisionRequest(t, sidebarBody("nobody"), "tok-1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown publisher")

	rr = ts.do(decisionRequest(t, sidebarBody("pub-off"), "tok-off"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "disabled")
}

func TestDecision_Validation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{"no placements", map[string]interface{}{"publisher": "pub-1"}, "placements"},
		{"blank placement", map[string]interface{}{
			"publisher":  "pub-1",
			"placements": []map[string]interface{}{{"div_id": "", "ad_type": "sidebar"}},
		}, "div_id and ad_type"},
		{"priority out of range", map[string]interface{}{
			"publisher":  "pub-1",
			"placements": []map[string]interface{}{{"div_id": "d1", "ad_type": "sidebar", "priority": 11}},
		}, "priority"},
		{"too many keywords", func() map[string]interface{} {
			b := sidebarBody("pub-1")
			kws := make([]string, 101)
			for i := range kws {
				kws[i] = "k"
			}
			b["keywords"] = kws
			return b
		}(), "keywords"},
		{"unknown campaign type", func() map[string]interface{} {
			b := sidebarBody("pub-1")
			b["campaign_types"] = []string{"sponsored"}
			return b
		}(), "campaign_types"},
		{"placement index too high", func() map[string]interface{} {
			b := sidebarBody("pub-1")
			b["placement_index"] = 10
			return b
		}(), "placement_index"},
		{"bad user ip", func() map[string]interface{} {
			b := sidebarBody("pub-1")
			b["user_ip"] = "not-an-ip"
			return b
		}(), "user_ip"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(decisionRequest(t, tc.body, "tok-1"))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.want)
		})
	}
}

func TestDecision_GetQueryForm(t *testing.T) {
	ts := newTestServer(t)
	expectOfferWrites(ts.mock)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/decision/?publisher=pub-1&div_ids=d1|d2&ad_types=sidebar|banner&priorities=1|2&keywords=go,rust&campaign_types=paid,house", nil)
	req.RemoteAddr = "198.51.100.9:4242"
	req.Header.Set("Authorization", "Token tok-1")

	rr := ts.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var payload offers.Payload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "ad-paid", payload.ID)
	assert.Equal(t, "d1", payload.DivID)
}

func TestDecision_GetQueryParallelListMismatch(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/decision/?publisher=pub-1&div_ids=d1|d2&ad_types=sidebar", nil)
	req.Header.Set("Authorization", "Bearer tok-1")

	rr := ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
