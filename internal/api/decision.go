package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/middleware"
	"github.com/patrickwarner/adengine/internal/models"
)

// maxKeywords bounds the request keyword list.
const maxKeywords = 100

// maxPlacementIndex bounds placement_index.
const maxPlacementIndex = 9

// DecisionRequest is the decision endpoint's body. GET requests carry the
// same fields as query parameters, with list fields pipe- or
// comma-separated.
type DecisionRequest struct {
	Publisher      string            `json:"publisher"`
	Placements     []logic.Placement `json:"placements"`
	Keywords       []string          `json:"keywords,omitempty"`
	CampaignTypes  []string          `json:"campaign_types,omitempty"`
	URL            string            `json:"url,omitempty"`
	PlacementIndex int               `json:"placement_index,omitempty"`
	UserIP         string            `json:"user_ip,omitempty"`
	UserUA         string            `json:"user_ua,omitempty"`
	ForceAd        string            `json:"force_ad,omitempty"`
	ForceCampaign  string            `json:"force_campaign,omitempty"`
	Rotations      int               `json:"rotations,omitempty"`
}

func decodeDecisionRequest(r *http.Request) (*DecisionRequest, error) {
	if r.Method == http.MethodGet {
		return decodeDecisionQuery(r)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	var req DecisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &req, nil
}

// decodeDecisionQuery maps GET query parameters onto the request shape:
// div_ids and ad_types are pipe-separated parallel lists, keywords and
// campaign_types comma-separated.
func decodeDecisionQuery(r *http.Request) (*DecisionRequest, error) {
	q := r.URL.Query()
	req := &DecisionRequest{
		Publisher:     q.Get("publisher"),
		URL:           q.Get("url"),
		UserIP:        q.Get("user_ip"),
		UserUA:        q.Get("user_ua"),
		ForceAd:       q.Get("force_ad"),
		ForceCampaign: q.Get("force_campaign"),
	}

	divIDs := splitList(q.Get("div_ids"), "|")
	adTypes := splitList(q.Get("ad_types"), "|")
	priorities := splitList(q.Get("priorities"), "|")
	if len(divIDs) != len(adTypes) {
		return nil, fmt.Errorf("div_ids and ad_types must be parallel lists")
	}
	for i := range divIDs {
		p := logic.Placement{DivID: divIDs[i], AdType: adTypes[i]}
		if i < len(priorities) {
			p.Priority, _ = strconv.Atoi(priorities[i])
		}
		req.Placements = append(req.Placements, p)
	}

	req.Keywords = splitList(q.Get("keywords"), ",")
	req.CampaignTypes = splitList(q.Get("campaign_types"), ",")
	if v := q.Get("placement_index"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid placement_index")
		}
		req.PlacementIndex = idx
	}
	if v := q.Get("rotations"); v != "" {
		req.Rotations, _ = strconv.Atoi(v)
	}
	return req, nil
}

func splitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validate returns a field-level error message, or "".
func (req *DecisionRequest) validate() string {
	if req.Publisher == "" {
		return "publisher: required"
	}
	if len(req.Placements) == 0 {
		return "placements: at least one required"
	}
	for i, p := range req.Placements {
		if p.DivID == "" || p.AdType == "" {
			return fmt.Sprintf("placements[%d]: div_id and ad_type required", i)
		}
		if p.Priority != 0 && (p.Priority < 1 || p.Priority > 10) {
			return fmt.Sprintf("placements[%d]: priority must be in [1, 10]", i)
		}
	}
	if len(req.Keywords) > maxKeywords {
		return fmt.Sprintf("keywords: at most %d allowed", maxKeywords)
	}
	if req.PlacementIndex < 0 || req.PlacementIndex > maxPlacementIndex {
		return fmt.Sprintf("placement_index: must be in [0, %d]", maxPlacementIndex)
	}
	for _, t := range req.CampaignTypes {
		if !models.ValidCampaignType(t) {
			return fmt.Sprintf("campaign_types: unknown type %q", t)
		}
	}
	if req.UserIP != "" && net.ParseIP(req.UserIP) == nil {
		return "user_ip: invalid address"
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecisionHandler answers "which ad should this placement show?".
func (s *Server) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "DecisionHandler",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/v1/decision/"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "decision"
	method := r.Method
	status := "200"
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, status)
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, s.Config.DecisionTimeout)
	defer cancel()

	req, err := decodeDecisionRequest(r)
	if err != nil {
		logger.Warn("decode decision request", zap.Error(err))
		status = "400"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}
	if msg := req.validate(); msg != "" {
		status = "400"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	pub := s.Data.GetPublisher(req.Publisher)
	if pub == nil {
		status = "400"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown publisher"})
		return
	}
	if pub.Disabled {
		status = "400"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "publisher is disabled"})
		return
	}

	if !pub.UnauthedAdDecisions {
		token := bearerToken(r)
		if token == "" {
			status = "401"
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authorization required"})
			return
		}
		tokenPub := s.Data.GetPublisherByToken(token)
		if tokenPub == nil {
			status = "401"
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unknown token"})
			return
		}
		if tokenPub.Slug != pub.Slug {
			status = "403"
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "token has no access to this publisher"})
			return
		}
	}

	rc := s.buildRequestContext(r, req, pub)
	span.SetAttributes(
		attribute.String("publisher", pub.Slug),
		attribute.Int("placements", len(rc.Placements)),
	)

	decision, err := s.Selector.Select(ctx, rc)
	if err != nil {
		logger.Error("selection failed", zap.Error(err))
		decision = nil
	}

	if decision == nil {
		if _, err := s.Ledger.CreateNullOffer(ctx, rc); err != nil {
			logger.Error("null offer failed", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	_, payload, err := s.Ledger.CreateOffer(ctx, rc, decision)
	if err != nil {
		// Decision-path failures degrade to an empty decision, not a 500.
		logger.Error("offer creation failed", zap.Error(err),
			zap.String("advertisement", decision.Advertisement.Slug))
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	logger.Info("decision served",
		zap.String("publisher", pub.Slug),
		zap.String("advertisement", decision.Advertisement.Slug),
		zap.String("campaign_type", decision.Campaign.Type),
		zap.Bool("forced", decision.Forced))
	writeJSON(w, http.StatusOK, payload)
}

// buildRequestContext runs the geo/UA resolution and fingerprint steps.
// Well-formed user_ip and user_ua overrides win over headers.
func (s *Server) buildRequestContext(r *http.Request, req *DecisionRequest, pub *models.Publisher) *logic.RequestContext {
	ip := clientIP(r)
	if req.UserIP != "" {
		if override := net.ParseIP(req.UserIP); override != nil {
			ip = override
		}
	}
	ua := r.UserAgent()
	if req.UserUA != "" {
		ua = req.UserUA
	}

	ipStr := ""
	if ip != nil {
		ipStr = ip.String()
	}

	validURL := logic.ValidateURL(req.URL)
	keywords, keywordList := logic.BuildKeywordSet(req.Keywords, pub.DefaultKeywords)

	return &logic.RequestContext{
		Publisher:      pub,
		Placements:     req.Placements,
		CampaignTypes:  req.CampaignTypes,
		PlacementIndex: req.PlacementIndex,
		Keywords:       keywords,
		KeywordList:    keywordList,
		URL:            validURL,
		Domain:         logic.DomainOf(validURL),
		Referrer:       r.Referer(),
		IP:             ip,
		UserAgent:      ua,
		UA:             logic.ParseUserAgent(ua),
		Geo:            s.GeoIP.Lookup(ip),
		ClientID:       logic.ClientID(s.Config.ClientIDSecret, ipStr, ua),
		ForceAd:        req.ForceAd,
		ForceCampaign:  req.ForceCampaign,
		Rotations:      req.Rotations,
		Now:            time.Now().UTC(),
	}
}
