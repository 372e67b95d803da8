package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

func TestBuildInvoiceRequest(t *testing.T) {
	now := time.Date(2026, 8, 12, 16, 30, 0, 0, time.UTC)
	shipment := model.Shipment{
		ID: 42,
		Items: []model.ShipmentItem{
			{Name: "Widget", Quantity: 3},
			{Name: "Gadget", Quantity: 1},
		},
	}

	req := application.BuildInvoiceRequest(shipment, application.InvoiceDefaults{
		CustomerRef: "58",
		ItemRef:     "7",
		UnitPrice:   0.333,
	}, now)

	assert.Equal(t, "SHIP-42-20260812", req.DocNumber)
	assert.Equal(t, now, req.TxnDate)
	assert.Equal(t, "58", req.CustomerRef)
	require.Len(t, req.Lines, 2)

	assert.Equal(t, "Widget (Qty: 3)", req.Lines[0].Description)
	assert.InDelta(t, 1.00, req.Lines[0].Amount, 0.0001)
	assert.Equal(t, "7", req.Lines[0].ItemRef)
	assert.Equal(t, 3, req.Lines[0].Quantity)

	assert.Equal(t, "Gadget (Qty: 1)", req.Lines[1].Description)
	assert.InDelta(t, 0.33, req.Lines[1].Amount, 0.0001)
}

func TestBuildInvoiceRequest_NoItems(t *testing.T) {
	req := application.BuildInvoiceRequest(model.Shipment{ID: 1}, application.InvoiceDefaults{UnitPrice: 10}, time.Now())

	assert.NotNil(t, req.Lines)
	assert.Empty(t, req.Lines)
}
