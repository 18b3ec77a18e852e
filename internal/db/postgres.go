package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/models"
)

// Postgres wraps the primary database connection. The offer table name is
// configurable so offers can be rolled to a fresh table by flipping an
// environment variable and archiving the old one.
type Postgres struct {
	DB         *sql.DB
	offerTable string
}

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ImpressionField names the counter an impression upsert bumps.
type ImpressionField string

const (
	ImpressionDecisions ImpressionField = "decisions"
	ImpressionOffers    ImpressionField = "offers"
	ImpressionViews     ImpressionField = "views"
	ImpressionClicks    ImpressionField = "clicks"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS publishers (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    allow_paid_campaigns BOOLEAN NOT NULL DEFAULT FALSE,
    allow_affiliate_campaigns BOOLEAN NOT NULL DEFAULT FALSE,
    allow_community_campaigns BOOLEAN NOT NULL DEFAULT FALSE,
    allow_house_campaigns BOOLEAN NOT NULL DEFAULT TRUE,
    daily_cap NUMERIC NOT NULL DEFAULT 0,
    record_views BOOLEAN NOT NULL DEFAULT FALSE,
    allow_multiple_placements BOOLEAN NOT NULL DEFAULT FALSE,
    ignore_mobile_traffic BOOLEAN NOT NULL DEFAULT FALSE,
    unauthed_ad_decisions BOOLEAN NOT NULL DEFAULT FALSE,
    default_keywords TEXT[] NOT NULL DEFAULT '{}',
    sampled_ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
    groups TEXT[] NOT NULL DEFAULT '{}',
    disabled BOOLEAN NOT NULL DEFAULT FALSE,
    token TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS advertisers (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
    slug TEXT PRIMARY KEY,
    advertiser_slug TEXT NOT NULL REFERENCES advertisers(slug),
    name TEXT NOT NULL,
    campaign_type TEXT NOT NULL,
    publisher_groups TEXT[] NOT NULL DEFAULT '{}',
    exclude_publishers TEXT[] NOT NULL DEFAULT '{}',
    max_sale_value NUMERIC NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS flights (
    slug TEXT PRIMARY KEY,
    campaign_slug TEXT NOT NULL REFERENCES campaigns(slug),
    name TEXT NOT NULL,
    live BOOLEAN NOT NULL DEFAULT FALSE,
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    cpc NUMERIC NOT NULL DEFAULT 0,
    cpm NUMERIC NOT NULL DEFAULT 0,
    sold_clicks BIGINT NOT NULL DEFAULT 0,
    sold_impressions BIGINT NOT NULL DEFAULT 0,
    priority_multiplier INT NOT NULL DEFAULT 1,
    pacing_interval INT NOT NULL DEFAULT 86400,
    prioritize_ctr BOOLEAN NOT NULL DEFAULT FALSE,
    daily_cap NUMERIC NOT NULL DEFAULT 0,
    targeting JSONB NOT NULL DEFAULT '{}',
    total_views BIGINT NOT NULL DEFAULT 0,
    total_clicks BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS advertisements (
    slug TEXT PRIMARY KEY,
    flight_slug TEXT NOT NULL REFERENCES flights(slug),
    name TEXT NOT NULL,
    live BOOLEAN NOT NULL DEFAULT FALSE,
    link TEXT NOT NULL,
    image TEXT NOT NULL DEFAULT '',
    text_blob TEXT NOT NULL DEFAULT '',
    headline TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    cta TEXT NOT NULL DEFAULT '',
    ad_types TEXT[] NOT NULL DEFAULT '{}',
    body TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ad_types (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    width INT NOT NULL DEFAULT 0,
    height INT NOT NULL DEFAULT 0,
    max_text_length INT NOT NULL DEFAULT 0,
    allowed_tags TEXT[] NOT NULL DEFAULT '{}',
    template TEXT NOT NULL DEFAULT '',
    deprecated BOOLEAN NOT NULL DEFAULT FALSE,
    publisher_slug TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS views (
    offer_id UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS clicks (
    offer_id UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ad_impressions (
    publisher_slug TEXT NOT NULL,
    advertisement_slug TEXT NULL,
    date DATE NOT NULL,
    decisions BIGINT NOT NULL DEFAULT 0,
    offers BIGINT NOT NULL DEFAULT 0,
    views BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS ad_impressions_key
    ON ad_impressions (publisher_slug, COALESCE(advertisement_slug, ''), date);
`

// offerTableSQL is applied per configured offer table so a freshly rolled
// table gets the schema on startup.
const offerTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    id UUID PRIMARY KEY,
    advertisement_slug TEXT NULL,
    publisher_slug TEXT NOT NULL,
    ad_type_slug TEXT NOT NULL DEFAULT '',
    div_id TEXT NOT NULL DEFAULT '',
    ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    browser TEXT NOT NULL DEFAULT '',
    os TEXT NOT NULL DEFAULT '',
    is_bot BOOLEAN NOT NULL DEFAULT FALSE,
    is_mobile BOOLEAN NOT NULL DEFAULT FALSE,
    country TEXT NOT NULL DEFAULT '',
    keywords TEXT[] NOT NULL DEFAULT '{}',
    url TEXT NOT NULL DEFAULT '',
    viewed BOOLEAN NOT NULL DEFAULT FALSE,
    clicked BOOLEAN NOT NULL DEFAULT FALSE,
    uplifted BOOLEAN NOT NULL DEFAULT FALSE,
    is_refunded BOOLEAN NOT NULL DEFAULT FALSE,
    paid_eligible BOOLEAN NOT NULL DEFAULT FALSE,
    rotations INT NOT NULL DEFAULT 1,
    view_time INT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS %s_created_at ON %s (created_at);
`

// InitPostgres opens the primary database with tracing instrumentation and
// connection pooling, verifies connectivity, and ensures the schema.
func InitPostgres(dsn, offerTable string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	if !validTableName.MatchString(offerTable) {
		return nil, fmt.Errorf("invalid offer table name %q", offerTable)
	}
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db, offerTable: offerTable}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.String("offer_table", offerTable),
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// NewPostgresFromDB wraps an existing connection. Tests use this with sqlmock.
func NewPostgresFromDB(db *sql.DB, offerTable string) *Postgres {
	return &Postgres{DB: db, offerTable: offerTable}
}

// OfferTable returns the configured offer table name.
func (p *Postgres) OfferTable() string { return p.offerTable }

// Close terminates the connection pool.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	stmt := fmt.Sprintf(offerTableSQL, p.offerTable, p.offerTable, p.offerTable)
	if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create offer table %s: %w", p.offerTable, err)
	}
	return nil
}

// LoadPublishers retrieves all publishers.
func (p *Postgres) LoadPublishers(ctx context.Context) ([]models.Publisher, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, name, allow_paid_campaigns, allow_affiliate_campaigns, allow_community_campaigns, allow_house_campaigns, daily_cap, record_views, allow_multiple_placements, ignore_mobile_traffic, unauthed_ad_decisions, default_keywords, sampled_ctr, groups, disabled, token FROM publishers WHERE NOT disabled`)
	if err != nil {
		return nil, fmt.Errorf("load publishers: %w", err)
	}
	defer rows.Close()

	var out []models.Publisher
	for rows.Next() {
		var pub models.Publisher
		var dailyCap string
		if err := rows.Scan(&pub.Slug, &pub.Name, &pub.AllowPaidCampaigns, &pub.AllowAffiliateCampaigns, &pub.AllowCommunityCampaigns, &pub.AllowHouseCampaigns, &dailyCap, &pub.RecordViews, &pub.AllowMultiplePlacements, &pub.IgnoreMobileTraffic, &pub.UnauthedAdDecisions, pq.Array(&pub.DefaultKeywords), &pub.SampledCTR, pq.Array(&pub.Groups), &pub.Disabled, &pub.Token); err != nil {
			return nil, fmt.Errorf("scan publisher: %w", err)
		}
		if pub.DailyCap, err = decimal.NewFromString(dailyCap); err != nil {
			return nil, fmt.Errorf("publisher %s daily cap: %w", pub.Slug, err)
		}
		out = append(out, pub)
	}
	return out, rows.Err()
}

// LoadAdvertisers retrieves all advertisers.
func (p *Postgres) LoadAdvertisers(ctx context.Context) ([]models.Advertiser, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, name FROM advertisers`)
	if err != nil {
		return nil, fmt.Errorf("load advertisers: %w", err)
	}
	defer rows.Close()

	var out []models.Advertiser
	for rows.Next() {
		var a models.Advertiser
		if err := rows.Scan(&a.Slug, &a.Name); err != nil {
			return nil, fmt.Errorf("scan advertiser: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadCampaigns retrieves all campaigns.
func (p *Postgres) LoadCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, advertiser_slug, name, campaign_type, publisher_groups, exclude_publishers, max_sale_value FROM campaigns`)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		var c models.Campaign
		var maxSale string
		if err := rows.Scan(&c.Slug, &c.AdvertiserSlug, &c.Name, &c.Type, pq.Array(&c.PublisherGroups), pq.Array(&c.ExcludePublishers), &maxSale); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if c.MaxSaleValue, err = decimal.NewFromString(maxSale); err != nil {
			return nil, fmt.Errorf("campaign %s max sale value: %w", c.Slug, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadFlights retrieves all flights, with targeting parsed from JSONB.
func (p *Postgres) LoadFlights(ctx context.Context) ([]models.Flight, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, campaign_slug, name, live, start_date, end_date, cpc, cpm, sold_clicks, sold_impressions, priority_multiplier, pacing_interval, prioritize_ctr, daily_cap, targeting, total_views, total_clicks FROM flights`)
	if err != nil {
		return nil, fmt.Errorf("load flights: %w", err)
	}
	defer rows.Close()

	var out []models.Flight
	for rows.Next() {
		var f models.Flight
		var cpc, cpm, dailyCap string
		var targeting []byte
		if err := rows.Scan(&f.Slug, &f.CampaignSlug, &f.Name, &f.Live, &f.StartDate, &f.EndDate, &cpc, &cpm, &f.SoldClicks, &f.SoldImpressions, &f.PriorityMultiplier, &f.PacingInterval, &f.PrioritizeCTR, &dailyCap, &targeting, &f.TotalViews, &f.TotalClicks); err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		if f.CPC, err = decimal.NewFromString(cpc); err != nil {
			return nil, fmt.Errorf("flight %s cpc: %w", f.Slug, err)
		}
		if f.CPM, err = decimal.NewFromString(cpm); err != nil {
			return nil, fmt.Errorf("flight %s cpm: %w", f.Slug, err)
		}
		if f.DailyCap, err = decimal.NewFromString(dailyCap); err != nil {
			return nil, fmt.Errorf("flight %s daily cap: %w", f.Slug, err)
		}
		if len(targeting) > 0 {
			t, err := models.ParseTargeting(targeting)
			if err != nil {
				zap.L().Warn("flight has invalid targeting, treating as untargeted",
					zap.String("flight", f.Slug), zap.Error(err))
			} else {
				f.Targeting = t
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadAdvertisements retrieves all advertisements.
func (p *Postgres) LoadAdvertisements(ctx context.Context) ([]models.Advertisement, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, flight_slug, name, live, link, image, text_blob, headline, content, cta, ad_types, body FROM advertisements`)
	if err != nil {
		return nil, fmt.Errorf("load advertisements: %w", err)
	}
	defer rows.Close()

	var out []models.Advertisement
	for rows.Next() {
		var a models.Advertisement
		if err := rows.Scan(&a.Slug, &a.FlightSlug, &a.Name, &a.Live, &a.Link, &a.Image, &a.Text, &a.Headline, &a.Content, &a.CTA, pq.Array(&a.AdTypes), &a.Body); err != nil {
			return nil, fmt.Errorf("scan advertisement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadAdTypes retrieves all ad types.
func (p *Postgres) LoadAdTypes(ctx context.Context) ([]models.AdType, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT slug, name, width, height, max_text_length, allowed_tags, template, deprecated, publisher_slug FROM ad_types`)
	if err != nil {
		return nil, fmt.Errorf("load ad types: %w", err)
	}
	defer rows.Close()

	var out []models.AdType
	for rows.Next() {
		var t models.AdType
		if err := rows.Scan(&t.Slug, &t.Name, &t.Width, &t.Height, &t.MaxTextLength, pq.Array(&t.AllowedTags), &t.Template, &t.Deprecated, &t.PublisherSlug); err != nil {
			return nil, fmt.Errorf("scan ad type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertOffer persists a freshly created offer.
func (p *Postgres) InsertOffer(ctx context.Context, o *models.Offer) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (id, advertisement_slug, publisher_slug, ad_type_slug, div_id, ip, user_agent, browser, os, is_bot, is_mobile, country, keywords, url, viewed, clicked, uplifted, is_refunded, paid_eligible, rotations, view_time, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`, p.offerTable)
	_, err := p.DB.ExecContext(ctx, stmt,
		o.ID, o.Advertisement, o.Publisher, o.AdTypeSlug, o.DivID, o.IP, o.UserAgent,
		o.Browser, o.OS, o.IsBot, o.IsMobile, o.Country, pq.Array(o.Keywords), o.URL,
		o.Viewed, o.Clicked, o.Uplifted, o.IsRefunded, o.PaidEligible, o.Rotations,
		o.ViewTime, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// GetOffer fetches one offer by id.
func (p *Postgres) GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	stmt := fmt.Sprintf(`SELECT id, advertisement_slug, publisher_slug, ad_type_slug, div_id, ip, user_agent, browser, os, is_bot, is_mobile, country, keywords, url, viewed, clicked, uplifted, is_refunded, paid_eligible, rotations, view_time, created_at FROM %s WHERE id = $1`, p.offerTable)
	var o models.Offer
	err := p.DB.QueryRowContext(ctx, stmt, id).Scan(
		&o.ID, &o.Advertisement, &o.Publisher, &o.AdTypeSlug, &o.DivID, &o.IP, &o.UserAgent,
		&o.Browser, &o.OS, &o.IsBot, &o.IsMobile, &o.Country, pq.Array(&o.Keywords), &o.URL,
		&o.Viewed, &o.Clicked, &o.Uplifted, &o.IsRefunded, &o.PaidEligible, &o.Rotations,
		&o.ViewTime, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return &o, nil
}

// MarkOfferViewed flips the viewed flag.
func (p *Postgres) MarkOfferViewed(ctx context.Context, id uuid.UUID) error {
	stmt := fmt.Sprintf(`UPDATE %s SET viewed = TRUE WHERE id = $1`, p.offerTable)
	if _, err := p.DB.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("mark offer viewed: %w", err)
	}
	return nil
}

// MarkOfferClicked flips the clicked flag.
func (p *Postgres) MarkOfferClicked(ctx context.Context, id uuid.UUID) error {
	stmt := fmt.Sprintf(`UPDATE %s SET clicked = TRUE WHERE id = $1`, p.offerTable)
	if _, err := p.DB.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("mark offer clicked: %w", err)
	}
	return nil
}

// MarkOfferUplifted records an uplift signal without touching viewed.
func (p *Postgres) MarkOfferUplifted(ctx context.Context, id uuid.UUID) error {
	stmt := fmt.Sprintf(`UPDATE %s SET uplifted = TRUE WHERE id = $1`, p.offerTable)
	if _, err := p.DB.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("mark offer uplifted: %w", err)
	}
	return nil
}

// SetOfferViewTime records the reported seconds the ad was in view.
func (p *Postgres) SetOfferViewTime(ctx context.Context, id uuid.UUID, seconds int) error {
	stmt := fmt.Sprintf(`UPDATE %s SET view_time = $2 WHERE id = $1`, p.offerTable)
	if _, err := p.DB.ExecContext(ctx, stmt, id, seconds); err != nil {
		return fmt.Errorf("set offer view time: %w", err)
	}
	return nil
}

// InsertView writes a view audit row.
func (p *Postgres) InsertView(ctx context.Context, v models.View) error {
	if _, err := p.DB.ExecContext(ctx, `INSERT INTO views (offer_id, created_at) VALUES ($1, $2)`, v.OfferID, v.CreatedAt); err != nil {
		return fmt.Errorf("insert view: %w", err)
	}
	return nil
}

// InsertClick writes a click audit row.
func (p *Postgres) InsertClick(ctx context.Context, c models.Click) error {
	if _, err := p.DB.ExecContext(ctx, `INSERT INTO clicks (offer_id, created_at) VALUES ($1, $2)`, c.OfferID, c.CreatedAt); err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

// IncrementImpression bumps one counter on the (publisher, ad, date) row,
// inserting it when absent. The increment runs inside the database so
// concurrent billings never lose updates. advertisement is nil for the
// sentinel null-decision row.
func (p *Postgres) IncrementImpression(ctx context.Context, publisher string, advertisement *string, date time.Time, field ImpressionField) error {
	stmt := fmt.Sprintf(`INSERT INTO ad_impressions (publisher_slug, advertisement_slug, date, %[1]s)
VALUES ($1, $2, $3, 1)
ON CONFLICT (publisher_slug, COALESCE(advertisement_slug, ''), date)
DO UPDATE SET %[1]s = ad_impressions.%[1]s + 1`, field)
	if _, err := p.DB.ExecContext(ctx, stmt, publisher, advertisement, date.UTC().Truncate(24*time.Hour)); err != nil {
		return fmt.Errorf("increment impression %s: %w", field, err)
	}
	return nil
}

// RefundOffer flips is_refunded and decrements the day's impression
// counters for whichever of view and click had been billed. The second call
// for the same offer returns false and changes nothing.
func (p *Postgres) RefundOffer(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("refund begin: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`UPDATE %s SET is_refunded = TRUE WHERE id = $1 AND NOT is_refunded RETURNING advertisement_slug, publisher_slug, viewed, clicked, created_at`, p.offerTable)
	var (
		ad        sql.NullString
		publisher string
		viewed    bool
		clicked   bool
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, stmt, id).Scan(&ad, &publisher, &viewed, &clicked, &createdAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("refund offer: %w", err)
	}

	date := createdAt.UTC().Truncate(24 * time.Hour)
	var adPtr *string
	if ad.Valid {
		adPtr = &ad.String
	}
	if viewed {
		if err := decrementImpression(ctx, tx, publisher, adPtr, date, ImpressionViews); err != nil {
			return false, err
		}
	}
	if clicked {
		if err := decrementImpression(ctx, tx, publisher, adPtr, date, ImpressionClicks); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("refund commit: %w", err)
	}
	return true, nil
}

func decrementImpression(ctx context.Context, tx *sql.Tx, publisher string, advertisement *string, date time.Time, field ImpressionField) error {
	stmt := fmt.Sprintf(`UPDATE ad_impressions SET %[1]s = GREATEST(%[1]s - 1, 0)
WHERE publisher_slug = $1 AND COALESCE(advertisement_slug, '') = COALESCE($2, '') AND date = $3`, field)
	if _, err := tx.ExecContext(ctx, stmt, publisher, advertisement, date); err != nil {
		return fmt.Errorf("decrement impression %s: %w", field, err)
	}
	return nil
}

// FlightTotals sums the daily impression counters per flight. The rollup
// worker writes the result back to flights and the in-memory graph.
func (p *Postgres) FlightTotals(ctx context.Context) (map[string][2]int64, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT a.flight_slug, COALESCE(SUM(i.views), 0), COALESCE(SUM(i.clicks), 0)
FROM ad_impressions i
JOIN advertisements a ON a.slug = i.advertisement_slug
GROUP BY a.flight_slug`)
	if err != nil {
		return nil, fmt.Errorf("flight totals: %w", err)
	}
	defer rows.Close()

	totals := map[string][2]int64{}
	for rows.Next() {
		var slug string
		var views, clicks int64
		if err := rows.Scan(&slug, &views, &clicks); err != nil {
			return nil, fmt.Errorf("scan flight totals: %w", err)
		}
		totals[slug] = [2]int64{views, clicks}
	}
	return totals, rows.Err()
}

// UpdateFlightTotals persists the denormalized totals for one flight.
func (p *Postgres) UpdateFlightTotals(ctx context.Context, slug string, views, clicks int64) error {
	if _, err := p.DB.ExecContext(ctx, `UPDATE flights SET total_views = $2, total_clicks = $3 WHERE slug = $1`, slug, views, clicks); err != nil {
		return fmt.Errorf("update flight totals: %w", err)
	}
	return nil
}

// OffersForDay streams one day's offers from the named table for archival.
// The table argument lets the archive job drain a rolled-out table.
func (p *Postgres) OffersForDay(ctx context.Context, table string, day time.Time) ([]models.Offer, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid offer table name %q", table)
	}
	start := day.UTC().Truncate(24 * time.Hour)
	stmt := fmt.Sprintf(`SELECT id, advertisement_slug, publisher_slug, ad_type_slug, div_id, ip, user_agent, browser, os, is_bot, is_mobile, country, keywords, url, viewed, clicked, uplifted, is_refunded, paid_eligible, rotations, view_time, created_at FROM %s WHERE created_at >= $1 AND created_at < $2 ORDER BY id`, table)
	rows, err := p.DB.QueryContext(ctx, stmt, start, start.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("offers for day: %w", err)
	}
	defer rows.Close()

	var out []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.ID, &o.Advertisement, &o.Publisher, &o.AdTypeSlug, &o.DivID, &o.IP, &o.UserAgent, &o.Browser, &o.OS, &o.IsBot, &o.IsMobile, &o.Country, pq.Array(&o.Keywords), &o.URL, &o.Viewed, &o.Clicked, &o.Uplifted, &o.IsRefunded, &o.PaidEligible, &o.Rotations, &o.ViewTime, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
