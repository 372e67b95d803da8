package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// ErrInvalidShipment wraps shipment validation failures.
var ErrInvalidShipment = errors.New("invalid shipment")

// ShipmentService handles shipment CRUD and attachment lookup.
type ShipmentService struct {
	shipments driven.ShipmentStore
	blobs     driven.BlobStore
	logger    *slog.Logger
}

// NewShipmentService creates a ShipmentService.
func NewShipmentService(shipments driven.ShipmentStore, blobs driven.BlobStore) *ShipmentService {
	return &ShipmentService{shipments: shipments, blobs: blobs, logger: slog.Default()}
}

// Create validates and stores a new shipment in the pending status.
func (s *ShipmentService) Create(ctx context.Context, shipment model.Shipment) (*model.Shipment, error) {
	if err := shipment.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidShipment, err)
	}
	shipment.Status = model.ShipmentStatusPending
	shipment.InvoiceID = ""
	shipment.InvoicePDFKey = ""

	return s.shipments.Create(ctx, shipment)
}

// Get returns one shipment.
func (s *ShipmentService) Get(ctx context.Context, id int64) (*model.Shipment, error) {
	return s.shipments.GetByID(ctx, id)
}

// List returns every shipment, newest first.
func (s *ShipmentService) List(ctx context.Context) ([]model.Shipment, error) {
	return s.shipments.ListAll(ctx)
}

// Update replaces the description and items of a shipment.
func (s *ShipmentService) Update(ctx context.Context, shipment model.Shipment) (*model.Shipment, error) {
	if err := shipment.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidShipment, err)
	}
	if err := s.shipments.UpdateDetails(ctx, shipment); err != nil {
		return nil, err
	}
	return s.shipments.GetByID(ctx, shipment.ID)
}

// Delete removes a shipment, its items and its invoice PDF.
func (s *ShipmentService) Delete(ctx context.Context, id int64) error {
	shipment, err := s.shipments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.shipments.Delete(ctx, id); err != nil {
		return err
	}

	if shipment.HasInvoicePDF() {
		if err := s.blobs.Delete(ctx, shipment.InvoicePDFKey); err != nil {
			s.logger.Warn("failed to delete invoice pdf", "shipment_id", id, "key", shipment.InvoicePDFKey, "error", err)
		}
	}
	return nil
}

// InvoicePDF returns the attached invoice PDF, or ErrBlobNotFound when none is attached.
func (s *ShipmentService) InvoicePDF(ctx context.Context, id int64) (*driven.Blob, error) {
	shipment, err := s.shipments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !shipment.HasInvoicePDF() {
		return nil, fmt.Errorf("shipment %d: %w", id, driven.ErrBlobNotFound)
	}
	return s.blobs.Get(ctx, shipment.InvoicePDFKey)
}
