package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/internal/usecase"
)

// ScrapeRequest is the payload for triggering a run.
type ScrapeRequest struct {
	Query string `json:"query"`
}

// WatchRequest sets a watch. MaxPrice is in major units.
type WatchRequest struct {
	MaxPrice decimal.Decimal `json:"max_price"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := domain.ProductQuery{
		Text:    params.Get("q"),
		Site:    params.Get("site"),
		OrderBy: params.Get("order_by"),
	}

	var err error
	if q.MinPrice, err = optionalInt64(params.Get("min_price")); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "min_price must be an integer")
		return
	}
	if q.MaxPrice, err = optionalInt64(params.Get("max_price")); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "max_price must be an integer")
		return
	}
	q.Page, _ = strconv.Atoi(params.Get("page"))
	q.PerPage, _ = strconv.Atoi(params.Get("per_page"))
	q.Desc, _ = strconv.ParseBool(params.Get("reversed"))

	page, err := s.catalog.ListProducts(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list products", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not list products")
		return
	}
	s.respondWithJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	p, err := s.catalog.GetProduct(r.Context(), id)
	if err != nil {
		s.respondWithCatalogError(w, err, "Could not retrieve product")
		return
	}
	s.respondWithJSON(w, http.StatusOK, p)
}

func (s *Server) handleProductHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := s.catalog.History(r.Context(), id, limit)
	if err != nil {
		s.respondWithCatalogError(w, err, "Could not retrieve price history")
		return
	}
	s.respondWithJSON(w, http.StatusOK, history)
}

func (s *Server) handleSetWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.MaxPrice.IsPositive() {
		s.respondWithError(w, http.StatusBadRequest, "max_price must be positive")
		return
	}

	maxMinor := req.MaxPrice.Shift(2).Round(0).IntPart()
	if err := s.catalog.SetWatch(r.Context(), id, true, &maxMinor); err != nil {
		s.respondWithCatalogError(w, err, "Could not update watch")
		return
	}
	s.handleGetProduct(w, r)
}

func (s *Server) handleClearWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	if err := s.catalog.SetWatch(r.Context(), id, false, nil); err != nil {
		s.respondWithCatalogError(w, err, "Could not update watch")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Query == "" {
		req.Query = r.URL.Query().Get("query")
	}

	err := s.scraper.Trigger(r.Context(), req.Query)
	if errors.Is(err, usecase.ErrRunInProgress) {
		s.respondWithError(w, http.StatusConflict, "A scrape run is already in progress")
		return
	}
	if err != nil {
		s.logger.Error("failed to start scrape", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not start scrape")
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Scrape started"})
}

func (s *Server) handleScrapeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.scraper.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to get run status", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve status")
		return
	}
	s.respondWithJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"catalog": "healthy", "tracker": "healthy"}
	if err := s.catalog.Ping(ctx); err != nil {
		healthStatus["catalog"] = "unhealthy"
		s.logger.Error("health check failed for catalog", zap.Error(err))
	}
	if err := s.tracker.Ping(ctx); err != nil {
		healthStatus["tracker"] = "unhealthy"
		s.logger.Error("health check failed for run tracker", zap.Error(err))
	}

	if healthStatus["catalog"] != "healthy" || healthStatus["tracker"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		s.respondWithError(w, http.StatusBadRequest, "Invalid product id")
		return 0, false
	}
	return id, true
}

func optionalInt64(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Server) respondWithCatalogError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, catalog.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Product not found")
		return
	}
	s.logger.Error(message, zap.Error(err))
	s.respondWithError(w, http.StatusInternalServerError, message)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
