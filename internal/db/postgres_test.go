package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adengine/internal/models"
)

func setupTestPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewPostgresFromDB(mockDB, "offers"), mock
}

func TestInitPostgres_RejectsBadTableName(t *testing.T) {
	_, err := InitPostgres("postgres://localhost/x", "offers; DROP TABLE offers", 1, 1, time.Minute, time.Minute)
	assert.Error(t, err)
}

func TestInsertOffer(t *testing.T) {
	pg, mock := setupTestPostgres(t)

	mock.ExpectExec(`INSERT INTO offers`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	offer := &models.Offer{
		ID:        uuid.New(),
		Publisher: "pub-1",
		Keywords:  []string{"go"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, pg.InsertOffer(context.Background(), offer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOffer_NotFound(t *testing.T) {
	pg, mock := setupTestPostgres(t)

	mock.ExpectQuery(`SELECT .+ FROM offers WHERE id`).
		WillReturnError(sql.ErrNoRows)

	offer, err := pg.GetOffer(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, offer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementImpression_UpsertsCounter(t *testing.T) {
	pg, mock := setupTestPostgres(t)

	day := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	ad := "ad-1"

	mock.ExpectExec(`INSERT INTO ad_impressions \(publisher_slug, advertisement_slug, date, views\).+ON CONFLICT`).
		WithArgs("pub-1", &ad, day.Truncate(24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, pg.IncrementImpression(context.Background(), "pub-1", &ad, day, ImpressionViews))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementImpression_NullAdvertisementSentinel(t *testing.T) {
	pg, mock := setupTestPostgres(t)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO ad_impressions \(publisher_slug, advertisement_slug, date, decisions\)`).
		WithArgs("pub-1", nil, day).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, pg.IncrementImpression(context.Background(), "pub-1", nil, day, ImpressionDecisions))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundOffer_RollsBackBilledCounters(t *testing.T) {
	pg, mock := setupTestPostgres(t)
	id := uuid.New()
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE offers SET is_refunded = TRUE WHERE id = \$1 AND NOT is_refunded RETURNING`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"advertisement_slug", "publisher_slug", "viewed", "clicked", "created_at"}).
			AddRow("ad-1", "pub-1", true, true, created))
	mock.ExpectExec(`UPDATE ad_impressions SET views = GREATEST\(views - 1, 0\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ad_impressions SET clicks = GREATEST\(clicks - 1, 0\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	refunded, err := pg.RefundOffer(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundOffer_SecondCallIsNoOp(t *testing.T) {
	pg, mock := setupTestPostgres(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE offers SET is_refunded = TRUE`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	refunded, err := pg.RefundOffer(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, refunded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundOffer_UnviewedOfferDecrementsNothing(t *testing.T) {
	pg, mock := setupTestPostgres(t)
	id := uuid.New()
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE offers SET is_refunded = TRUE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"advertisement_slug", "publisher_slug", "viewed", "clicked", "created_at"}).
			AddRow(nil, "pub-1", false, false, created))
	mock.ExpectCommit()

	refunded, err := pg.RefundOffer(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlightTotals(t *testing.T) {
	pg, mock := setupTestPostgres(t)

	mock.ExpectQuery(`SELECT a.flight_slug`).
		WillReturnRows(sqlmock.NewRows([]string{"flight_slug", "views", "clicks"}).
			AddRow("f1", int64(120), int64(4)).
			AddRow("f2", int64(0), int64(9)))

	totals, err := pg.FlightTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]int64{120, 4}, totals["f1"])
	assert.Equal(t, [2]int64{0, 9}, totals["f2"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOffersForDay_RejectsBadTableName(t *testing.T) {
	pg, _ := setupTestPostgres(t)
	_, err := pg.OffersForDay(context.Background(), "offers--", time.Now())
	assert.Error(t, err)
}
