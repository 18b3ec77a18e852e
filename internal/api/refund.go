package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/middleware"
)

type refundRequest struct {
	OfferID string `json:"offer_id"`
}

type refundResponse struct {
	Refunded bool `json:"refunded"`
}

// RefundHandler flips is_refunded on an offer and rolls back its billed
// counters. Requires the token of the publisher the offer was served on.
func (s *Server) RefundHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "RefundHandler")
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "refund"
	status := "200"
	defer func() {
		s.Metrics.IncrementRequests(endpoint, "POST", status)
		s.Metrics.RecordRequestLatency(endpoint, "POST", time.Since(start))
	}()

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "400"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}
	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		status = "400"
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "offer_id: invalid"})
		return
	}

	tokenPub := s.Data.GetPublisherByToken(bearerToken(r))
	if tokenPub == nil {
		status = "401"
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authorization required"})
		return
	}
	offer, err := s.PG.GetOffer(ctx, offerID)
	if err != nil {
		logger.Error("offer lookup failed", zap.Error(err))
		status = "500"
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if offer == nil {
		status = "404"
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown offer"})
		return
	}
	if offer.Publisher != tokenPub.Slug {
		status = "403"
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "token has no access to this offer"})
		return
	}

	refunded, err := s.Tracker.Refund(ctx, offerID)
	if err != nil {
		logger.Error("refund failed", zap.Error(err), zap.String("offer", offerID.String()))
		status = "500"
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{Refunded: refunded})
}
