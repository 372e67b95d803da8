package driven

import (
	"context"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

// AccountingClient defines the driven port for the accounting service API.
// Every call carries its own authorization; the client holds no token state.
type AccountingClient interface {
	// CreateInvoice creates an invoice and returns it with its external ID.
	CreateInvoice(ctx context.Context, auth model.AccountingAuth, req model.InvoiceRequest) (*model.Invoice, error)

	// FetchInvoice returns the invoice with the given external ID.
	FetchInvoice(ctx context.Context, auth model.AccountingAuth, invoiceID string) (*model.Invoice, error)

	// InvoicePDF returns the PDF rendition of an invoice, or nil when the
	// service returned no data.
	InvoicePDF(ctx context.Context, auth model.AccountingAuth, invoice model.Invoice) ([]byte, error)
}
