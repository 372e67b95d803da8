package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

var (
	// ErrShipmentNotFound is returned when a shipment ID does not exist.
	ErrShipmentNotFound = errors.New("shipment not found")

	// ErrInvoiceAlreadySet is returned by SetInvoiceID when the shipment
	// already carries an invoice ID.
	ErrInvoiceAlreadySet = errors.New("shipment already has an invoice id")

	// ErrStatusConflict is returned by TransitionStatus when the stored status
	// is not the expected one.
	ErrStatusConflict = errors.New("shipment status changed concurrently")

	// ErrTransitionNotAllowed is returned by TransitionStatus when the
	// lifecycle has no edge from the current status to the requested one.
	ErrTransitionNotAllowed = errors.New("shipment status transition not allowed")
)

// ShipmentStore defines the driven port for shipment persistence.
type ShipmentStore interface {
	// Create inserts a shipment and its items, returning the stored shipment.
	Create(ctx context.Context, shipment model.Shipment) (*model.Shipment, error)

	// GetByID returns a shipment with its items, or ErrShipmentNotFound.
	GetByID(ctx context.Context, id int64) (*model.Shipment, error)

	// ListAll returns every shipment with its items, newest first.
	ListAll(ctx context.Context) ([]model.Shipment, error)

	// ListStale returns shipments in one of the given statuses whose last
	// update happened before the cutoff.
	ListStale(ctx context.Context, statuses []model.ShipmentStatus, before time.Time) ([]model.Shipment, error)

	// UpdateDetails replaces the description and the full item list.
	UpdateDetails(ctx context.Context, shipment model.Shipment) error

	// TransitionStatus moves the shipment from one status to another
	// atomically. Returns ErrTransitionNotAllowed if the lifecycle forbids
	// the move and ErrStatusConflict if the stored status is not from.
	TransitionStatus(ctx context.Context, id int64, from, to model.ShipmentStatus) error

	// MarkShipped moves an awaiting shipment to shipped and records the time.
	MarkShipped(ctx context.Context, id int64, shippedAt time.Time) error

	// SetInvoiceID records the external invoice ID. Returns
	// ErrInvoiceAlreadySet if one is already stored.
	SetInvoiceID(ctx context.Context, id int64, invoiceID string) error

	// AttachInvoicePDF records the blob key of the invoice PDF.
	AttachInvoicePDF(ctx context.Context, id int64, blobKey string) error

	// Delete removes the shipment and cascades to its items.
	Delete(ctx context.Context, id int64) error
}
