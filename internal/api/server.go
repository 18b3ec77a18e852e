// Package api exposes the engine over HTTP: the decision endpoint, the
// view/click/view-time event proxies, refunds, health and reload.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/analytics"
	"github.com/patrickwarner/adengine/internal/config"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/geoip"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/logic/selectors"
	"github.com/patrickwarner/adengine/internal/middleware"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
	"github.com/patrickwarner/adengine/internal/offers"
)

var tracer = otel.Tracer("adengine")

// Server groups dependencies for the HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Redis     *db.RedisStore
	PG        *db.Postgres
	Analytics analytics.AnalyticsService
	GeoIP     *geoip.GeoIP
	Data      models.AdDataStore
	Selector  selectors.Selector
	Ledger    *offers.Ledger
	Tracker   *offers.Tracker
	Blocklist *logic.Blocklist
	Geography *logic.Geography
	Metrics   observability.MetricsRegistry
	Config    config.Config

	reloadMu sync.Mutex
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/api/v1/decision/", s.DecisionHandler).Methods("POST", "GET")
	r.HandleFunc("/api/v1/refund/", s.RefundHandler).Methods("POST")
	r.HandleFunc("/proxy/view/{advertisement}/{nonce}/", s.ViewProxyHandler).Methods("GET")
	r.HandleFunc("/proxy/view-time/{advertisement}/{nonce}/", s.ViewTimeHandler).Methods("GET")
	r.HandleFunc("/proxy/click/{advertisement}/{nonce}/", s.ClickProxyHandler).Methods("GET")
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/reload", s.ReloadHandler).Methods("POST")
	return r
}

// Reload atomically replaces the in-memory ad graph from Postgres and
// re-reads the blocklist and geography files.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	pubs, err := s.PG.LoadPublishers(ctx)
	if err != nil {
		return err
	}
	advertisers, err := s.PG.LoadAdvertisers(ctx)
	if err != nil {
		return err
	}
	campaigns, err := s.PG.LoadCampaigns(ctx)
	if err != nil {
		return err
	}
	flights, err := s.PG.LoadFlights(ctx)
	if err != nil {
		return err
	}
	ads, err := s.PG.LoadAdvertisements(ctx)
	if err != nil {
		return err
	}
	adTypes, err := s.PG.LoadAdTypes(ctx)
	if err != nil {
		return err
	}
	if err := s.Data.ReloadAll(pubs, advertisers, campaigns, flights, ads, adTypes); err != nil {
		return err
	}

	if s.Config.BlocklistPath != "" {
		if err := s.Blocklist.Reload(s.Config.BlocklistPath); err != nil {
			s.Logger.Warn("blocklist reload failed, keeping previous rules", zap.Error(err))
		}
	}
	if s.Config.GeographyPath != "" {
		if err := s.Geography.Reload(s.Config.GeographyPath); err != nil {
			s.Logger.Warn("geography reload failed, keeping previous tables", zap.Error(err))
		}
	}

	s.Logger.Info("ad data reloaded",
		zap.Int("publishers", len(pubs)),
		zap.Int("flights", len(flights)),
		zap.Int("advertisements", len(ads)))
	return nil
}

// clientIP picks the request IP: the first entry of X-Forwarded-For when
// present, else the connection's remote address.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// bearerToken extracts the Authorization bearer token, or "".
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if token, ok := strings.CutPrefix(auth, "Token "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// eventContext annotates a proxy event request. Traffic authenticated with
// any publisher token is treated as a known user and never billed.
func (s *Server) eventContext(r *http.Request) *offers.EventContext {
	ip := clientIP(r)
	ua := r.UserAgent()
	return &offers.EventContext{
		IP:        ip,
		UserAgent: ua,
		UA:        logic.ParseUserAgent(ua),
		Referrer:  r.Referer(),
		Geo:       s.GeoIP.Lookup(ip),
		KnownUser: s.Data.GetPublisherByToken(bearerToken(r)) != nil,
	}
}
