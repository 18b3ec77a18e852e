package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/middleware"
	"github.com/patrickwarner/adengine/internal/offers"
	"github.com/patrickwarner/adengine/internal/token"
)

// reasonHeader carries the billing outcome on every proxy response.
const reasonHeader = "X-Adserver-Reason"

// pixelGIF is a 1x1 transparent GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func writePixel(w http.ResponseWriter, reason string) {
	if reason != "" {
		w.Header().Set(reasonHeader, reason)
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}

// verifySignature checks the sig query parameter against the routed path.
func (s *Server) verifySignature(r *http.Request) bool {
	return token.VerifyPath(s.Config.ProxySecret, r.URL.Path, r.URL.Query().Get("sig"))
}

// ViewProxyHandler bills a view and answers with a tracking pixel. The
// uplift=1 query marks the offer uplifted instead of billing.
func (s *Server) ViewProxyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ViewProxyHandler",
		trace.WithAttributes(attribute.String("http.route", "/proxy/view/")))
	defer span.End()

	start := time.Now()
	defer func() {
		s.Metrics.IncrementRequests("view_proxy", "GET", "200")
		s.Metrics.RecordRequestLatency("view_proxy", "GET", time.Since(start))
	}()

	vars := mux.Vars(r)
	ad, nonce := vars["advertisement"], vars["nonce"]

	if !s.verifySignature(r) {
		writePixel(w, offers.ReasonUnknownOffer)
		return
	}

	if r.URL.Query().Get("uplift") == "1" {
		s.Tracker.Uplift(ctx, ad, nonce)
		writePixel(w, "")
		return
	}

	reason := s.Tracker.TrackView(ctx, ad, nonce, s.eventContext(r))
	span.SetAttributes(attribute.String("reason", reason))
	writePixel(w, reason)
}

// ViewTimeHandler records how long the ad was in view.
func (s *Server) ViewTimeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ViewTimeHandler",
		trace.WithAttributes(attribute.String("http.route", "/proxy/view-time/")))
	defer span.End()

	start := time.Now()
	defer func() {
		s.Metrics.IncrementRequests("view_time", "GET", "200")
		s.Metrics.RecordRequestLatency("view_time", "GET", time.Since(start))
	}()

	vars := mux.Vars(r)
	ad, nonce := vars["advertisement"], vars["nonce"]

	if !s.verifySignature(r) {
		writePixel(w, offers.ReasonUnknownOffer)
		return
	}

	seconds, err := strconv.Atoi(r.URL.Query().Get("view_time"))
	if err != nil {
		writePixel(w, offers.ReasonInvalidViewTime)
		return
	}
	reason := s.Tracker.TrackViewTime(ctx, ad, nonce, seconds)
	writePixel(w, reason)
}

// ClickProxyHandler bills a click and redirects to the advertisement's link
// with ${publisher} and ${advertisement} expanded, regardless of the
// billing outcome.
func (s *Server) ClickProxyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ClickProxyHandler",
		trace.WithAttributes(attribute.String("http.route", "/proxy/click/")))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	defer func() {
		s.Metrics.IncrementRequests("click_proxy", "GET", "302")
		s.Metrics.RecordRequestLatency("click_proxy", "GET", time.Since(start))
	}()

	vars := mux.Vars(r)
	adSlug, nonce := vars["advertisement"], vars["nonce"]

	ad := s.Data.GetAdvertisement(adSlug)
	if ad == nil {
		http.NotFound(w, r)
		return
	}

	reason := offers.ReasonUnknownOffer
	publisher := ""
	if s.verifySignature(r) {
		reason, publisher = s.Tracker.TrackClick(ctx, adSlug, nonce, s.eventContext(r))
	}
	span.SetAttributes(attribute.String("reason", reason))
	if reason != offers.ReasonBilledClick {
		logger.Info("click not billed",
			zap.String("advertisement", adSlug),
			zap.String("reason", reason))
	}

	w.Header().Set(reasonHeader, reason)
	http.Redirect(w, r, expandLink(ad.Link, publisher, adSlug), http.StatusFound)
}

// expandLink substitutes the link variables and appends the ea-publisher
// query parameter.
func expandLink(link, publisher, advertisement string) string {
	link = strings.ReplaceAll(link, "${publisher}", publisher)
	link = strings.ReplaceAll(link, "${advertisement}", advertisement)

	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Set("ea-publisher", publisher)
	u.RawQuery = q.Encode()
	return u.String()
}
