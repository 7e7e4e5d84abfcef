// Package server exposes the HTTP surface: shipment operations, courier
// webhooks, health, and metrics. Handlers are thin glue over the services.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/shipbridge/courier-gateway/internal/webhook"
	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Config holds server configuration.
type Config struct {
	Port int
}

// Server is the HTTP server for the courier gateway.
type Server struct {
	port      int
	registry  *courier.Registry
	shipments *shipments.Service
	webhooks  *webhook.Service
	logger    *otelzap.Logger
}

// New creates a new server instance.
func New(cfg Config, registry *courier.Registry, shipmentService *shipments.Service, webhookService *webhook.Service, logger *otelzap.Logger) *Server {
	return &Server{
		port:      cfg.Port,
		registry:  registry,
		shipments: shipmentService,
		webhooks:  webhookService,
		logger:    logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/couriers", s.handleListCouriers)

		r.Route("/shipments", func(r chi.Router) {
			r.Post("/", s.handleCreateShipment)
			r.Get("/{reference}", s.handleGetShipment)
		})

		r.Route("/waybills/{waybillNumber}", func(r chi.Router) {
			r.Get("/tracking", s.handleTrack)
			r.Get("/label", s.handleGetLabel)
			r.Post("/cancel", s.handleCancel)
		})

		r.Post("/webhooks/{courier}", s.handleWebhook)
	})

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"couriers": s.registry.Health(r.Context()),
	})
}

func (s *Server) handleListCouriers(w http.ResponseWriter, r *http.Request) {
	health := s.registry.Health(r.Context())

	type courierInfo struct {
		Code      string `json:"code"`
		Available bool   `json:"available"`
	}
	couriers := make([]courierInfo, 0, len(health))
	for _, code := range s.registry.Available() {
		couriers = append(couriers, courierInfo{Code: code, Available: health[code]})
	}
	s.respond(w, http.StatusOK, map[string]any{"couriers": couriers})
}

type createShipmentRequest struct {
	CourierCode    string              `json:"courier_code"`
	Reference      string              `json:"reference"`
	Shipper        addressPayload      `json:"shipper"`
	Receiver       addressPayload      `json:"receiver"`
	Package        packagePayload      `json:"package"`
	ServiceType    courier.ServiceType `json:"service_type"`
	CashOnDelivery bool                `json:"cash_on_delivery"`
	CODAmount      float64             `json:"cod_amount"`
	Notes          string              `json:"notes"`
	Async          bool                `json:"async"`
}

type addressPayload struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	CountryCode  string `json:"country_code"`
	Email        string `json:"email"`
}

type packagePayload struct {
	Weight        float64 `json:"weight"`
	Length        float64 `json:"length"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	Description   string  `json:"description"`
	DeclaredValue float64 `json:"declared_value"`
	Currency      string  `json:"currency"`
}

func (p addressPayload) toAddress() courier.Address {
	return courier.Address{
		Name:         p.Name,
		Phone:        p.Phone,
		AddressLine1: p.AddressLine1,
		AddressLine2: p.AddressLine2,
		City:         p.City,
		State:        p.State,
		PostalCode:   p.PostalCode,
		CountryCode:  p.CountryCode,
		Email:        p.Email,
	}
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.CourierCode == "" || req.Reference == "" {
		s.respondError(w, http.StatusBadRequest, "invalid_request", "courier_code and reference are required")
		return
	}

	createReq := &shipments.CreateRequest{
		CourierCode:    req.CourierCode,
		Reference:      req.Reference,
		Shipper:        req.Shipper.toAddress(),
		Receiver:       req.Receiver.toAddress(),
		Package: courier.Package{
			Weight:        req.Package.Weight,
			Length:        req.Package.Length,
			Width:         req.Package.Width,
			Height:        req.Package.Height,
			Description:   req.Package.Description,
			DeclaredValue: req.Package.DeclaredValue,
			Currency:      req.Package.Currency,
		},
		ServiceType:    req.ServiceType,
		CashOnDelivery: req.CashOnDelivery,
		CODAmount:      req.CODAmount,
		Notes:          req.Notes,
	}

	var (
		shipment *shipments.Shipment
		err      error
	)
	if req.Async {
		shipment, err = s.shipments.CreateAsync(r.Context(), createReq)
	} else {
		shipment, err = s.shipments.Create(r.Context(), createReq)
	}
	if err != nil {
		s.respondCourierError(w, r, err)
		return
	}

	status := http.StatusCreated
	if req.Async {
		status = http.StatusAccepted
	}
	s.respond(w, status, shipment)
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	shipment, err := s.shipments.FindByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		s.respondCourierError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, shipment)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	resp, err := s.shipments.Track(r.Context(), chi.URLParam(r, "waybillNumber"), forceRefresh)
	if err != nil {
		s.respondCourierError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleGetLabel(w http.ResponseWriter, r *http.Request) {
	label, err := s.shipments.GetLabel(r.Context(), chi.URLParam(r, "waybillNumber"))
	if err != nil {
		s.respondCourierError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, label)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	result, err := s.shipments.Cancel(r.Context(), chi.URLParam(r, "waybillNumber"))
	if err != nil {
		s.respondCourierError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

const maxWebhookBody = 1 << 20

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	courierCode := chi.URLParam(r, "courier")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
		return
	}

	err = s.webhooks.Process(r.Context(), courierCode, body,
		r.Header.Get("X-Webhook-Signature"),
		r.Header.Get("X-Webhook-Timestamp"),
	)
	if err != nil {
		var authErr *webhook.AuthError
		if errors.As(err, &authErr) {
			s.respondError(w, http.StatusUnauthorized, authErr.Code(), authErr.Error())
			return
		}
		if errors.Is(err, webhook.ErrNoWaybillNumber) {
			s.respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.respondCourierError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	var resp errorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	s.respond(w, status, resp)
}

// respondCourierError maps the courier error taxonomy to HTTP statuses.
func (s *Server) respondCourierError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, shipments.ErrShipmentNotFound) {
		s.respondError(w, http.StatusNotFound, "shipment_not_found", err.Error())
		return
	}

	code := courier.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case courier.CodeCourierNotFound:
		status = http.StatusNotFound
	case courier.CodeCourierUnavailable:
		status = http.StatusServiceUnavailable
	case courier.CodeCourierAPIError:
		status = http.StatusBadGateway
	case courier.CodeTransportError:
		status = http.StatusGatewayTimeout
	case courier.CodeCancellationUnsupported, courier.CodeCancellationNotAllowed:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Unhandled error", zap.Error(err))
	}
	s.respondError(w, status, code, err.Error())
}
