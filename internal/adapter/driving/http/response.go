package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ShipmentItemRequest is one item line in a create or update request.
type ShipmentItemRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ShipmentRequest is the body of POST and PUT /api/v1/shipments.
type ShipmentRequest struct {
	Description string                `json:"description"`
	Items       []ShipmentItemRequest `json:"items"`
}

func (req ShipmentRequest) toModel() model.Shipment {
	items := make([]model.ShipmentItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.ShipmentItem{Name: it.Name, Quantity: it.Quantity})
	}
	return model.Shipment{Description: req.Description, Items: items}
}

// ShipmentItemResponse is the JSON representation of a shipment item.
type ShipmentItemResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ShipmentResponse is the JSON representation of a shipment.
type ShipmentResponse struct {
	ID              int64                  `json:"id"`
	Description     string                 `json:"description"`
	DescriptionHTML string                 `json:"description_html"`
	Status          string                 `json:"status"`
	InvoiceID       string                 `json:"invoice_id,omitempty"`
	HasInvoicePDF   bool                   `json:"has_invoice_pdf"`
	InvoicePending  bool                   `json:"invoice_pending"`
	ShippedAt       string                 `json:"shipped_at,omitempty"`
	Items           []ShipmentItemResponse `json:"items"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
}

// InvoiceAcceptedResponse is returned when invoice creation was enqueued.
type InvoiceAcceptedResponse struct {
	ShipmentID int64  `json:"shipment_id"`
	Status     string `json:"status"`
}

// SchedulerResponse is the JSON representation of the refresh scheduler state.
type SchedulerResponse struct {
	State        string                 `json:"state"`
	RefreshingID int64                  `json:"refreshing_credential_id,omitempty"`
	NextWakeAt   string                 `json:"next_wake_at,omitempty"`
	LastCycleAt  string                 `json:"last_cycle_at,omitempty"`
	LastCycle    application.CycleStats `json:"last_cycle"`
}

// ConnectionStatusResponse is the JSON representation of the QuickBooks
// connection. Token values are never included.
type ConnectionStatusResponse struct {
	Connected             bool              `json:"connected"`
	RealmID               string            `json:"realm_id,omitempty"`
	AccessTokenExpiresAt  string            `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt string            `json:"refresh_token_expires_at,omitempty"`
	RefreshTokenValid     bool              `json:"refresh_token_valid"`
	ConfigIssues          []string          `json:"config_issues"`
	Scheduler             SchedulerResponse `json:"scheduler"`
}

func (h *Handler) toShipmentResponse(s model.Shipment) ShipmentResponse {
	items := make([]ShipmentItemResponse, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, ShipmentItemResponse{ID: it.ID, Name: it.Name, Quantity: it.Quantity})
	}

	return ShipmentResponse{
		ID:              s.ID,
		Description:     s.Description,
		DescriptionHTML: RenderMarkdown(s.Description),
		Status:          string(s.Status),
		InvoiceID:       s.InvoiceID,
		HasInvoicePDF:   s.HasInvoicePDF(),
		InvoicePending:  h.workflow != nil && h.workflow.InFlight(s.ID),
		ShippedAt:       formatTime(s.ShippedAt),
		Items:           items,
		CreatedAt:       formatTime(s.CreatedAt),
		UpdatedAt:       formatTime(s.UpdatedAt),
	}
}

func toConnectionStatusResponse(s application.ConnectionStatus) ConnectionStatusResponse {
	issues := s.ConfigIssues
	if issues == nil {
		issues = []string{}
	}

	return ConnectionStatusResponse{
		Connected:             s.Connected,
		RealmID:               s.RealmID,
		AccessTokenExpiresAt:  formatTime(s.AccessTokenExpiresAt),
		RefreshTokenExpiresAt: formatTime(s.RefreshTokenExpiresAt),
		RefreshTokenValid:     s.RefreshTokenValid,
		ConfigIssues:          issues,
		Scheduler: SchedulerResponse{
			State:        string(s.Scheduler.State),
			RefreshingID: s.Scheduler.RefreshingID,
			NextWakeAt:   formatTime(s.Scheduler.NextWakeAt),
			LastCycleAt:  formatTime(s.Scheduler.LastCycleAt),
			LastCycle:    s.Scheduler.LastCycle,
		},
	}
}

// formatTime renders t as RFC 3339 UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
