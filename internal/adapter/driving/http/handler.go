// Package httphandler implements the JSON REST API driving adapter.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// ShipmentService is the shipment CRUD surface the API needs.
type ShipmentService interface {
	Create(ctx context.Context, shipment model.Shipment) (*model.Shipment, error)
	Get(ctx context.Context, id int64) (*model.Shipment, error)
	List(ctx context.Context) ([]model.Shipment, error)
	Update(ctx context.Context, shipment model.Shipment) (*model.Shipment, error)
	Delete(ctx context.Context, id int64) error
	InvoicePDF(ctx context.Context, id int64) (*driven.Blob, error)
}

// InvoiceWorkflow is the status-changing surface the API needs.
type InvoiceWorkflow interface {
	RequestInvoice(ctx context.Context, id int64) error
	Cancel(ctx context.Context, id int64) error
	Ship(ctx context.Context, id int64) error
	Deliver(ctx context.Context, id int64) error
	InFlight(id int64) bool
}

// ConnectionService reports and removes the QuickBooks connection.
type ConnectionService interface {
	Status(ctx context.Context) (application.ConnectionStatus, error)
	Disconnect(ctx context.Context) error
}

// RefreshCycle runs one token refresh cycle on demand.
type RefreshCycle interface {
	RunCycle(ctx context.Context) application.CycleStats
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	shipments  ShipmentService
	workflow   InvoiceWorkflow
	connection ConnectionService
	refresher  RefreshCycle
	metrics    http.Handler
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. metrics may be
// nil, in which case /metrics is not served.
func NewHandler(
	shipments ShipmentService,
	workflow InvoiceWorkflow,
	connection ConnectionService,
	refresher RefreshCycle,
	metrics http.Handler,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		shipments:  shipments,
		workflow:   workflow,
		connection: connection,
		refresher:  refresher,
		metrics:    metrics,
		logger:     logger,
	}
}

// RegisterAPIRoutes registers all REST API routes on the provided mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/quickbooks/status", h.QuickBooksStatus)
	mux.HandleFunc("POST /api/v1/quickbooks/refresh", h.RefreshTokens)
	mux.HandleFunc("DELETE /api/v1/quickbooks/credential", h.Disconnect)

	mux.HandleFunc("GET /api/v1/shipments", h.ListShipments)
	mux.HandleFunc("POST /api/v1/shipments", h.CreateShipment)
	mux.HandleFunc("GET /api/v1/shipments/{id}", h.GetShipment)
	mux.HandleFunc("PUT /api/v1/shipments/{id}", h.UpdateShipment)
	mux.HandleFunc("DELETE /api/v1/shipments/{id}", h.DeleteShipment)
	mux.HandleFunc("POST /api/v1/shipments/{id}/invoice", h.RequestInvoice)
	mux.HandleFunc("GET /api/v1/shipments/{id}/invoice.pdf", h.DownloadInvoicePDF)
	mux.HandleFunc("POST /api/v1/shipments/{id}/cancel", h.CancelShipment)
	mux.HandleFunc("POST /api/v1/shipments/{id}/ship", h.ShipShipment)
	mux.HandleFunc("POST /api/v1/shipments/{id}/deliver", h.DeliverShipment)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// QuickBooksStatus reports the connection, token expiries and scheduler state.
func (h *Handler) QuickBooksStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.connection.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to load quickbooks status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toConnectionStatusResponse(status))
}

// RefreshTokens runs a refresh cycle now and returns its counts. If a cycle
// is already running it answers 202 without waiting for it.
func (h *Handler) RefreshTokens(w http.ResponseWriter, r *http.Request) {
	stats := h.refresher.RunCycle(r.Context())
	if stats.AlreadyRunning {
		writeJSON(w, http.StatusAccepted, stats)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Disconnect deletes the stored QuickBooks credential.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	err := h.connection.Disconnect(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, application.ErrNotConnected):
		writeError(w, http.StatusNotFound, "quickbooks not connected")
	default:
		h.logger.Error("failed to disconnect quickbooks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
