package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// ListShipments returns every shipment, newest first.
func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := h.shipments.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list shipments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ShipmentResponse, 0, len(shipments))
	for _, s := range shipments {
		resp = append(resp, h.toShipmentResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetShipment returns a single shipment.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}

	shipment, err := h.shipments.Get(r.Context(), id)
	if err != nil {
		h.writeShipmentError(w, "failed to get shipment", id, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toShipmentResponse(*shipment))
}

// CreateShipment stores a new pending shipment.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req ShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.shipments.Create(r.Context(), req.toModel())
	if err != nil {
		h.writeShipmentError(w, "failed to create shipment", 0, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.toShipmentResponse(*created))
}

// UpdateShipment replaces a shipment's description and items.
func (h *Handler) UpdateShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}

	var req ShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	shipment := req.toModel()
	shipment.ID = id
	updated, err := h.shipments.Update(r.Context(), shipment)
	if err != nil {
		h.writeShipmentError(w, "failed to update shipment", id, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toShipmentResponse(*updated))
}

// DeleteShipment removes a shipment.
func (h *Handler) DeleteShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}

	if err := h.shipments.Delete(r.Context(), id); err != nil {
		h.writeShipmentError(w, "failed to delete shipment", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestInvoice starts background invoice creation for a pending shipment.
func (h *Handler) RequestInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}

	if err := h.workflow.RequestInvoice(r.Context(), id); err != nil {
		h.writeShipmentError(w, "failed to request invoice", id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InvoiceAcceptedResponse{
		ShipmentID: id,
		Status:     string(model.ShipmentStatusGeneratingInvoice),
	})
}

// DownloadInvoicePDF serves the attached invoice PDF.
func (h *Handler) DownloadInvoicePDF(w http.ResponseWriter, r *http.Request) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}

	blob, err := h.shipments.InvoicePDF(r.Context(), id)
	if err != nil {
		h.writeShipmentError(w, "failed to load invoice pdf", id, err)
		return
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	if blob.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.Filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}

// CancelShipment cancels a pending shipment.
func (h *Handler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "cancel", h.workflow.Cancel)
}

// ShipShipment marks an awaiting shipment as shipped.
func (h *Handler) ShipShipment(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "ship", h.workflow.Ship)
}

// DeliverShipment marks a shipped shipment as delivered.
func (h *Handler) DeliverShipment(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, "deliver", h.workflow.Deliver)
}

func (h *Handler) changeStatus(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(ctx context.Context, id int64) error,
) {
	id, ok := shipmentID(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		h.writeShipmentError(w, "failed to "+action+" shipment", id, err)
		return
	}

	shipment, err := h.shipments.Get(r.Context(), id)
	if err != nil {
		h.writeShipmentError(w, "failed to reload shipment", id, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toShipmentResponse(*shipment))
}

// writeShipmentError maps application and store errors to HTTP statuses.
func (h *Handler) writeShipmentError(w http.ResponseWriter, msg string, id int64, err error) {
	switch {
	case errors.Is(err, driven.ErrShipmentNotFound):
		writeError(w, http.StatusNotFound, "shipment not found")
	case errors.Is(err, driven.ErrBlobNotFound):
		writeError(w, http.StatusNotFound, "invoice pdf not found")
	case errors.Is(err, application.ErrInvalidShipment):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrInvoiceAlreadyExists):
		writeError(w, http.StatusConflict, "invoice already exists for shipment")
	case errors.Is(err, application.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "shipment status does not allow this action")
	case errors.Is(err, application.ErrNotConnected):
		writeError(w, http.StatusPreconditionFailed, "quickbooks not connected")
	default:
		h.logger.Error(msg, "shipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func shipmentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid shipment id")
		return 0, false
	}
	return id, true
}
