// Package archive exports rolled-out offer tables to object storage, one
// compressed CSV per day.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
)

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver drains offer rows into per-day gzip CSV objects.
type Archiver struct {
	PG      *db.Postgres
	S3      ObjectPutter
	Bucket  string
	Prefix  string
	Metrics observability.MetricsRegistry
	Logger  *zap.Logger
}

var csvHeader = []string{
	"id", "advertisement", "publisher", "ad_type", "div_id", "ip",
	"user_agent", "browser", "os", "is_bot", "is_mobile", "country",
	"keywords", "url", "viewed", "clicked", "uplifted", "is_refunded",
	"paid_eligible", "rotations", "view_time", "created_at",
}

// ArchiveDay exports one day of the named offer table. The object key is
// <prefix>/<table>/<YYYY-MM-DD>.csv.gz.
func (a *Archiver) ArchiveDay(ctx context.Context, table string, day time.Time) (int, error) {
	rows, err := a.PG.OffersForDay(ctx, table, day)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	body, err := encodeCSV(rows)
	if err != nil {
		return 0, err
	}

	key := fmt.Sprintf("%s/%s/%s.csv.gz", a.Prefix, table, day.UTC().Format("2006-01-02"))
	_, err = a.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return 0, fmt.Errorf("archive upload %s: %w", key, err)
	}

	a.Metrics.AddArchivedOffers(len(rows))
	a.Logger.Info("archived offers",
		zap.String("key", key),
		zap.Int("offers", len(rows)))
	return len(rows), nil
}

// ArchiveRange exports every day in [from, to] inclusive. Days with no
// offers are skipped.
func (a *Archiver) ArchiveRange(ctx context.Context, table string, from, to time.Time) (int, error) {
	total := 0
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to); day = day.Add(24 * time.Hour) {
		n, err := a.ArchiveDay(ctx, table, day)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func encodeCSV(rows []models.Offer) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	w := csv.NewWriter(gz)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("archive csv: %w", err)
	}
	for _, o := range rows {
		ad := ""
		if o.Advertisement != nil {
			ad = *o.Advertisement
		}
		viewTime := ""
		if o.ViewTime != nil {
			viewTime = strconv.Itoa(*o.ViewTime)
		}
		record := []string{
			o.ID.String(), ad, o.Publisher, o.AdTypeSlug, o.DivID, o.IP,
			o.UserAgent, o.Browser, o.OS,
			strconv.FormatBool(o.IsBot), strconv.FormatBool(o.IsMobile),
			o.Country, strings.Join(o.Keywords, " "), o.URL,
			strconv.FormatBool(o.Viewed), strconv.FormatBool(o.Clicked),
			strconv.FormatBool(o.Uplifted), strconv.FormatBool(o.IsRefunded),
			strconv.FormatBool(o.PaidEligible), strconv.Itoa(o.Rotations),
			viewTime, o.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("archive csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("archive csv: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive gzip: %w", err)
	}
	return buf.Bytes(), nil
}
