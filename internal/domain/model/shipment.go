package model

import (
	"errors"
	"time"
)

// ShipmentStatus is a step in the fulfillment lifecycle.
type ShipmentStatus string

const (
	ShipmentStatusPending             ShipmentStatus = "pending"
	ShipmentStatusGeneratingInvoice   ShipmentStatus = "generating_invoice"
	ShipmentStatusDownloadingPackslip ShipmentStatus = "downloading_packslip"
	ShipmentStatusAwaitingShipment    ShipmentStatus = "awaiting_shipment"
	ShipmentStatusShipped             ShipmentStatus = "shipped"
	ShipmentStatusDelivered           ShipmentStatus = "delivered"
	ShipmentStatusCancelled           ShipmentStatus = "cancelled"
)

// transitions lists the allowed moves. Reverting to pending is the failure
// path of the invoice workflow; the moves to awaiting_shipment from either
// invoicing status let a shipment that already has an invoice be repaired.
var transitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPending:             {ShipmentStatusGeneratingInvoice, ShipmentStatusCancelled},
	ShipmentStatusGeneratingInvoice:   {ShipmentStatusDownloadingPackslip, ShipmentStatusAwaitingShipment, ShipmentStatusPending},
	ShipmentStatusDownloadingPackslip: {ShipmentStatusAwaitingShipment, ShipmentStatusPending},
	ShipmentStatusAwaitingShipment:    {ShipmentStatusShipped},
	ShipmentStatusShipped:             {ShipmentStatusDelivered},
}

// Valid reports whether s is a known status.
func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusGeneratingInvoice, ShipmentStatusDownloadingPackslip,
		ShipmentStatusAwaitingShipment, ShipmentStatusShipped, ShipmentStatusDelivered, ShipmentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ShipmentStatus) CanTransitionTo(next ShipmentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Shipment is a unit of work moving through the fulfillment pipeline.
type Shipment struct {
	ID            int64
	Description   string
	Status        ShipmentStatus
	ShippedAt     time.Time
	InvoiceID     string // set at most once; presence means the invoice exists
	InvoicePDFKey string // blob store key of the attached invoice PDF
	Items         []ShipmentItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasInvoice reports whether an external invoice has been created.
func (s Shipment) HasInvoice() bool {
	return s.InvoiceID != ""
}

// HasInvoicePDF reports whether an invoice PDF is attached.
func (s Shipment) HasInvoicePDF() bool {
	return s.InvoicePDFKey != ""
}

// ShipmentItem is a line of a shipment, owned by and deleted with it.
type ShipmentItem struct {
	ID         int64
	ShipmentID int64
	Name       string
	Quantity   int
}

var (
	errDescriptionRequired = errors.New("description is required")
	errItemNameRequired    = errors.New("item name is required")
	errItemQuantity        = errors.New("item quantity must be greater than 0")
)

// Validate checks the fields a user can edit.
func (s Shipment) Validate() error {
	if s.Description == "" {
		return errDescriptionRequired
	}
	for _, item := range s.Items {
		if item.Name == "" {
			return errItemNameRequired
		}
		if item.Quantity <= 0 {
			return errItemQuantity
		}
	}
	return nil
}
