package offers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adengine/internal/analytics"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/logic/selectors"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
	"github.com/patrickwarner/adengine/internal/token"
)

var fixedOfferID = uuid.MustParse("018f7f3e-7b3a-7000-8000-000000000001")

func setupLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock, *miniredis.Miniredis, *analytics.MockAnalytics) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	newUUID = func() (uuid.UUID, error) { return fixedOfferID, nil }
	t.Cleanup(func() { newUUID = uuid.NewV7 })

	events := analytics.NewMockAnalytics()
	l := &Ledger{
		PG:          db.NewPostgresFromDB(mockDB, "offers"),
		Redis:       db.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
		Analytics:   events,
		Metrics:     observability.NewNoOpRegistry(),
		BaseURL:     "http://ads.test",
		ProxySecret: "proxy-secret",
		NonceTTL:    4 * time.Hour,
	}
	return l, mock, mr, events
}

func paidDecision() *selectors.Decision {
	return &selectors.Decision{
		Campaign: &models.Campaign{Slug: "c1", Type: models.CampaignPaid},
		Flight:   &models.Flight{Slug: "f1", CampaignSlug: "c1"},
		Advertisement: &models.Advertisement{
			Slug: "ad-1", FlightSlug: "f1",
			Link: "https://example.com/", Headline: "H", Content: "C", CTA: "Go",
			AdTypes: []string{"sidebar"},
		},
		Placement: logic.Placement{DivID: "d1", AdType: "sidebar"},
	}
}

func offerRequestContext() *logic.RequestContext {
	return &logic.RequestContext{
		Publisher:  &models.Publisher{Slug: "pub-1", AllowPaidCampaigns: true},
		Placements: []logic.Placement{{DivID: "d1", AdType: "sidebar"}},
		Now:        time.Now().UTC(),
	}
}

func TestCreateOffer_ArmsNoncesAndSignsURLs(t *testing.T) {
	l, mock, mr, events := setupLedger(t)

	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+decisions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+offers`).WillReturnResult(sqlmock.NewResult(0, 1))

	offer, payload, err := l.CreateOffer(context.Background(), offerRequestContext(), paidDecision())
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.NoError(t, mock.ExpectationsWereMet())

	nonce := fixedOfferID.String()
	assert.Equal(t, nonce, payload.Nonce)
	assert.Equal(t, "ad-1", payload.ID)
	assert.Equal(t, models.CampaignPaid, payload.CampaignType)
	assert.Equal(t, Copy{Headline: "H", Content: "C", CTA: "Go"}, payload.Copy)
	assert.True(t, offer.PaidEligible)

	// All three nonce keys are armed for a normal offer.
	assert.True(t, mr.Exists("offer:ad-1:"+nonce+":view"))
	assert.True(t, mr.Exists("offer:ad-1:"+nonce+":click"))
	assert.True(t, mr.Exists("offer:ad-1:"+nonce+":publisher"))

	// Event URLs verify against the proxy secret.
	path := "/proxy/view/ad-1/" + nonce + "/"
	wantPrefix := "http://ads.test" + path + "?sig="
	require.True(t, strings.HasPrefix(payload.ViewURL, wantPrefix), payload.ViewURL)
	sig := strings.TrimPrefix(payload.ViewURL, wantPrefix)
	assert.True(t, token.VerifyPath("proxy-secret", path, sig))

	assert.Len(t, events.EventsOfType(analytics.EventOffer), 1)
}

func TestCreateOffer_ForcedPaidArmsNothing(t *testing.T) {
	l, mock, mr, _ := setupLedger(t)

	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+decisions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+offers`).WillReturnResult(sqlmock.NewResult(0, 1))

	d := paidDecision()
	d.Forced = true
	_, payload, err := l.CreateOffer(context.Background(), offerRequestContext(), d)
	require.NoError(t, err)

	// Forced non-house offers carry the sentinel nonce and no armed keys,
	// so nothing they report can ever bill.
	assert.Equal(t, models.ForcedNonce, payload.Nonce)
	assert.False(t, mr.Exists("offer:ad-1:forced:view"))
	assert.False(t, mr.Exists("offer:ad-1:forced:click"))
	assert.False(t, mr.Exists("offer:ad-1:forced:publisher"))
}

func TestCreateOffer_ForcedHouseCountsViews(t *testing.T) {
	l, mock, mr, _ := setupLedger(t)

	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+decisions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+offers`).WillReturnResult(sqlmock.NewResult(0, 1))

	d := paidDecision()
	d.Forced = true
	d.Campaign = &models.Campaign{Slug: "c-house", Type: models.CampaignHouse}

	_, payload, err := l.CreateOffer(context.Background(), offerRequestContext(), d)
	require.NoError(t, err)

	// Forced house ads count views but never clicks.
	assert.Equal(t, models.ForcedNonce, payload.Nonce)
	assert.True(t, mr.Exists("offer:ad-1:forced:view"))
	assert.False(t, mr.Exists("offer:ad-1:forced:click"))
	assert.True(t, mr.Exists("offer:ad-1:forced:publisher"))
}

func TestCreateNullOffer(t *testing.T) {
	l, mock, _, events := setupLedger(t)

	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions .+decisions`).
		WithArgs("pub-1", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	offer, err := l.CreateNullOffer(context.Background(), offerRequestContext())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Nil(t, offer.Advertisement)
	assert.Equal(t, "d1", offer.DivID)
	assert.Len(t, events.EventsOfType(analytics.EventDecision), 1)
}

func TestBuildOffer_Anonymization(t *testing.T) {
	l, mock, _, _ := setupLedger(t)

	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions`).WillReturnResult(sqlmock.NewResult(0, 1))

	rc := offerRequestContext()
	rc.IP = []byte{203, 0, 113, 77}
	rc.UserAgent = "totally-custom-client/1.0"
	rc.UA = logic.ParseUserAgent(rc.UserAgent)
	rc.Placements[0].DivID = strings.Repeat("x", 150)

	offer, err := l.CreateNullOffer(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, "203.0.0.0", offer.IP)
	// Unrecognized browsers are stored as a sentinel, not the raw string.
	assert.Equal(t, models.RareUserAgent, offer.UserAgent)
	assert.Len(t, offer.DivID, 100)
	assert.Equal(t, 1, offer.Rotations)
}

func TestBuildOffer_DoNotTrackDropsUserAgent(t *testing.T) {
	l, mock, _, _ := setupLedger(t)
	l.DoNotTrack = true

	mock.ExpectExec(`INSERT INTO offers`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ad_impressions`).WillReturnResult(sqlmock.NewResult(0, 1))

	rc := offerRequestContext()
	rc.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	rc.UA = logic.ParseUserAgent(rc.UserAgent)

	offer, err := l.CreateNullOffer(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "", offer.UserAgent)
	// The parsed families survive for reporting.
	assert.Equal(t, "Chrome", offer.Browser)
}
