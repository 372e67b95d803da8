package application

import (
	"fmt"
	"math"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

// InvoiceDefaults holds the accounting references applied to every invoice.
type InvoiceDefaults struct {
	CustomerRef string
	ItemRef     string
	UnitPrice   float64
}

// BuildInvoiceRequest maps a shipment to an accounting invoice: one sales
// line per item priced at the default unit price.
func BuildInvoiceRequest(shipment model.Shipment, defaults InvoiceDefaults, now time.Time) model.InvoiceRequest {
	req := model.InvoiceRequest{
		DocNumber:   fmt.Sprintf("SHIP-%d-%s", shipment.ID, now.Format("20060102")),
		TxnDate:     now,
		CustomerRef: defaults.CustomerRef,
		Lines:       make([]model.InvoiceLine, 0, len(shipment.Items)),
	}

	for _, item := range shipment.Items {
		req.Lines = append(req.Lines, model.InvoiceLine{
			Description: fmt.Sprintf("%s (Qty: %d)", item.Name, item.Quantity),
			Amount:      roundCents(defaults.UnitPrice * float64(item.Quantity)),
			ItemRef:     defaults.ItemRef,
			Quantity:    item.Quantity,
			UnitPrice:   defaults.UnitPrice,
		})
	}

	return req
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
