package model

import "time"

// AccountingAuth carries the per-call authorization the accounting API needs.
type AccountingAuth struct {
	AccessToken string
	CompanyID   string
}

// InvoiceRequest is the accounting-side invoice built from a shipment.
type InvoiceRequest struct {
	DocNumber   string
	TxnDate     time.Time
	CustomerRef string
	Lines       []InvoiceLine
}

// InvoiceLine is a sales-item line of an invoice.
type InvoiceLine struct {
	Description string
	Amount      float64
	ItemRef     string
	Quantity    int
	UnitPrice   float64
}

// Invoice is an invoice as returned by the accounting API.
type Invoice struct {
	ID          string
	DocNumber   string
	TotalAmount float64
}
