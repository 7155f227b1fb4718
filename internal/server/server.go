package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/homecooks/mealmarket/internal/availability"
	"github.com/homecooks/mealmarket/internal/cart"
	"github.com/homecooks/mealmarket/internal/config"
	"github.com/homecooks/mealmarket/internal/geo"
	"github.com/homecooks/mealmarket/internal/metrics"
	"github.com/homecooks/mealmarket/internal/middleware"
	"github.com/homecooks/mealmarket/internal/models"
	"github.com/homecooks/mealmarket/internal/ranking"
	"github.com/homecooks/mealmarket/internal/service"
)

const maxBodyBytes = 1 << 20

// LocationStore is the location provider that also accepts updates.
type LocationStore interface {
	Get(ctx context.Context, customerID string) (*models.GeoPoint, error)
	Set(ctx context.Context, customerID string, pt models.GeoPoint) error
}

type Deps struct {
	Discovery *service.DiscoveryService
	Checkout  *service.CheckoutService
	Locations LocationStore
	Auth      *middleware.Auth
	Limiter   *middleware.RateLimiter
	Metrics   *metrics.Metrics
}

type Server struct {
	discovery   *service.DiscoveryService
	checkout    *service.CheckoutService
	locations   LocationStore
	auth        *middleware.Auth
	limiter     *middleware.RateLimiter
	metrics     *metrics.Metrics
	addr        string
	corsOrigins []string

	httpServer *http.Server
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{
		discovery:   deps.Discovery,
		checkout:    deps.Checkout,
		locations:   deps.Locations,
		auth:        deps.Auth,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		addr:        cfg.Addr(),
		corsOrigins: cfg.CORSOrigins,
	}
}

func (s *Server) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.handleWith(router, http.MethodGet, "/discover/instant", s.handleInstant, false)
	s.handleWith(router, http.MethodGet, "/discover/scheduled", s.handleScheduled, false)
	s.handleWith(router, http.MethodPut, "/me/location", s.handleSetLocation, true)

	s.handleWith(router, http.MethodGet, "/cart", s.handleViewCart, false)
	s.handleWith(router, http.MethodDelete, "/cart", s.handleClearCart, false)
	s.handleWith(router, http.MethodPost, "/cart/lines", s.handleAddLine, false)
	s.handleWith(router, http.MethodPatch, "/cart/lines/:mealID", s.handleAdjustLine, false)
	s.handleWith(router, http.MethodDelete, "/cart/lines/:mealID", s.handleRemoveLine, false)

	s.handleWith(router, http.MethodPost, "/orders", s.handleCheckout, false)
	s.handleWith(router, http.MethodGet, "/orders/:id", s.handleGetOrder, true)
	s.handleWith(router, http.MethodPut, "/orders/:id/status", s.handleUpdateStatus, true)
}

// Handler is the full HTTP surface with CORS applied.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	s.RegisterRoutes(router)
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Session-ID"},
	}).Handler(router)
}

func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("Server listen on %s...", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWith(router *httprouter.Router, method, path string, h httprouter.Handle, authRequired bool) {
	if s.limiter != nil {
		h = s.limiter.Limit(h)
	}
	if authRequired {
		h = s.auth.Require(h)
	} else {
		h = s.auth.Authenticate(h)
	}
	var observe func(string, int)
	if s.metrics != nil {
		observe = s.metrics.ObserveRequest
	}
	router.Handle(method, path, middleware.LogMiddleware(path, observe, h))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type discoveryResponse[T any] struct {
	Results []service.Result[T] `json:"results"`
}

func (s *Server) handleInstant(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q, err := discoveryQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := s.discovery.Instant(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discoveryResponse[models.MealOffer]{Results: results})
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q, err := discoveryQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw := r.URL.Query().Get("date")
	date, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %q", availability.ErrInvalidDate, raw))
		return
	}
	results, err := s.discovery.Scheduled(r.Context(), q, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discoveryResponse[models.ChefProfile]{Results: results})
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.locations == nil {
		http.Error(w, "location store unavailable", http.StatusServiceUnavailable)
		return
	}
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, fmt.Errorf("%w: latitude and longitude are required", geo.ErrInvalidCoordinate))
		return
	}
	p, _ := middleware.PrincipalFrom(r.Context())
	pt := models.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := s.locations.Set(r.Context(), p.Subject, pt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViewCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session, err := sessionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.checkout.ViewCart(session))
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session, err := sessionKey(r)
	if err == nil {
		err = s.checkout.ClearCart(session)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addLineRequest struct {
	MealID   string `json:"meal_id"`
	Quantity int    `json:"quantity"`
}

func (s *Server) handleAddLine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session, err := sessionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req addLineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := s.checkout.AddToCart(r.Context(), session, req.MealID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type adjustLineRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleAdjustLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, err := sessionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req adjustLineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	view, err := s.checkout.AdjustQuantity(session, ps.ByName("mealID"), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRemoveLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, err := sessionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.checkout.RemoveLine(session, ps.ByName("mealID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type checkoutRequest struct {
	ChefID       string              `json:"chef_id"`
	DeliveryType models.DeliveryType `json:"delivery_type"`
}

// handleCheckout lets anonymous callers through so that the orchestrator
// reports the missing customer itself.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session, err := sessionKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var customerID string
	if p, ok := middleware.PrincipalFrom(r.Context()); ok && p.Role == models.RoleCustomer {
		customerID = p.Subject
	}
	placed, err := s.checkout.Checkout(r.Context(), session, customerID, req.ChefID, req.DeliveryType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, placed)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	details, err := s.checkout.GetOrder(r.Context(), ps.ByName("id"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := s.checkout.UpdateStatus(r.Context(), ps.ByName("id"), req.Status, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func discoveryQuery(r *http.Request) (service.Query, error) {
	v := r.URL.Query()
	strategy, err := ranking.ParseStrategy(v.Get("strategy"))
	if err != nil {
		return service.Query{}, err
	}
	q := service.Query{Strategy: strategy}
	if p, ok := middleware.PrincipalFrom(r.Context()); ok && p.Role == models.RoleCustomer {
		q.CustomerID = p.Subject
	}

	lat, lon := v.Get("lat"), v.Get("lon")
	if lat != "" || lon != "" {
		la, errLat := strconv.ParseFloat(lat, 64)
		lo, errLon := strconv.ParseFloat(lon, 64)
		if errLat != nil || errLon != nil {
			return service.Query{}, fmt.Errorf("%w: lat=%q lon=%q", geo.ErrInvalidCoordinate, lat, lon)
		}
		q.Location = &models.GeoPoint{Latitude: la, Longitude: lo}
	}
	if raw := v.Get("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 {
			return service.Query{}, fmt.Errorf("%w: invalid radius %q", errBadRequest, raw)
		}
		q.RadiusKm = radius
	}
	return q, nil
}

// sessionKey is the X-Session-ID header, else the caller's subject.
func sessionKey(r *http.Request) (string, error) {
	if key := r.Header.Get("X-Session-ID"); key != "" {
		return key, nil
	}
	if p, ok := middleware.PrincipalFrom(r.Context()); ok {
		return p.Subject, nil
	}
	return "", cart.ErrNoSession
}

func actor(r *http.Request) service.Actor {
	p, _ := middleware.PrincipalFrom(r.Context())
	return service.Actor{ID: p.Subject, Role: p.Role}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
