// Package analytics streams decision and billing events to ClickHouse for
// offline analysis. The event log never feeds back into decisions or
// impression counters.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/adengine/internal/observability"
)

// AnalyticsService records engine events. Implementations must tolerate an
// unavailable backend by returning ErrUnavailable; callers log and move on.
type AnalyticsService interface {
	// RecordEvent records one event row.
	RecordEvent(ctx context.Context, e EventRecord) error
}

// ErrUnavailable is returned when the analytics backend is not configured
// or unreachable.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// EventRecord mirrors a row in the events table. Cost is the billed amount
// for view and click events, zero otherwise.
type EventRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	OfferID       string    `json:"offer_id"`
	Publisher     string    `json:"publisher"`
	Advertisement *string   `json:"advertisement"`
	Flight        *string   `json:"flight"`
	Campaign      *string   `json:"campaign"`
	CampaignType  *string   `json:"campaign_type"`
	Cost          float64   `json:"cost"`
	Country       *string   `json:"country"`
	Reason        string    `json:"reason"`
}

// Event types written to the log.
const (
	EventDecision = "decision"
	EventOffer    = "offer"
	EventView     = "view"
	EventClick    = "click"
	EventRefund   = "refund"
)

// Analytics wraps the ClickHouse connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns int, metrics observability.MetricsRegistry) (*Analytics, error) {
	chdb, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	chdb.SetMaxOpenConns(maxOpenConns)
	if err := chdb.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS events (
       timestamp     DateTime,
       event_type    String,
       offer_id      String,
       publisher     String,
       advertisement Nullable(String),
       flight        Nullable(String),
       campaign      Nullable(String),
       campaign_type Nullable(String),
       cost          Float64,
       country       Nullable(String),
       reason        String
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`
	if _, err := chdb.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: chdb, Metrics: metrics}, nil
}

// RecordEvent inserts a single event row.
func (a *Analytics) RecordEvent(ctx context.Context, e EventRecord) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := a.DB.ExecContext(ctx, `INSERT INTO events (timestamp, event_type, offer_id, publisher, advertisement, flight, campaign, campaign_type, cost, country, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.EventType, e.OfferID, e.Publisher, e.Advertisement, e.Flight, e.Campaign, e.CampaignType, e.Cost, e.Country, e.Reason)
	if err != nil {
		return fmt.Errorf("clickhouse insert event: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
