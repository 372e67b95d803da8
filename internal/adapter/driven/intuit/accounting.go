package intuit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountingClient = (*AccountingClient)(nil)

// QuickBooks Online API hosts.
const (
	SandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	ProductionBaseURL = "https://quickbooks.api.intuit.com"

	minorVersion  = "75"
	txnDateLayout = "2006-01-02"
)

// BaseURLFor returns the API host for an Intuit environment name.
func BaseURLFor(environment string) string {
	if environment == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// AccountingClient is a QuickBooks Online v3 REST client. Authorization is
// supplied per call and layered over a shared caching transport:
//  1. oauth2.Transport (bearer token from the call's AccountingAuth)
//  2. httpcache (conditional GET caching)
type AccountingClient struct {
	baseURL string
	base    http.RoundTripper
	timeout time.Duration
}

// NewAccountingClient creates a client for the given Intuit environment.
func NewAccountingClient(environment string) *AccountingClient {
	return NewAccountingClientWithTransport(BaseURLFor(environment), httpcache.NewMemoryCacheTransport())
}

// NewAccountingClientWithTransport creates a client with a custom base URL
// and transport. This constructor is intended for testing.
func NewAccountingClientWithTransport(baseURL string, base http.RoundTripper) *AccountingClient {
	return &AccountingClient{baseURL: baseURL, base: base, timeout: 30 * time.Second}
}

// APIError is a non-2xx response from the accounting API.
type APIError struct {
	StatusCode int
	FaultType  string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("quickbooks api %d %s (code %s): %s", e.StatusCode, e.FaultType, e.Code, e.Message)
	}
	return fmt.Sprintf("quickbooks api %d: %s", e.StatusCode, e.Message)
}

type reference struct {
	Value string `json:"value"`
}

type salesItemLineDetail struct {
	ItemRef   reference `json:"ItemRef"`
	Qty       int       `json:"Qty"`
	UnitPrice float64   `json:"UnitPrice"`
}

type invoiceLine struct {
	DetailType          string              `json:"DetailType"`
	Amount              float64             `json:"Amount"`
	Description         string              `json:"Description,omitempty"`
	SalesItemLineDetail salesItemLineDetail `json:"SalesItemLineDetail"`
}

type invoicePayload struct {
	DocNumber   string        `json:"DocNumber,omitempty"`
	TxnDate     string        `json:"TxnDate,omitempty"`
	CustomerRef reference     `json:"CustomerRef"`
	Line        []invoiceLine `json:"Line"`
}

type invoiceEntity struct {
	ID        string  `json:"Id"`
	DocNumber string  `json:"DocNumber"`
	TotalAmt  float64 `json:"TotalAmt"`
}

type invoiceEnvelope struct {
	Invoice invoiceEntity `json:"Invoice"`
}

type faultEnvelope struct {
	Fault struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}

// CreateInvoice posts a new invoice and returns it with its external ID.
func (c *AccountingClient) CreateInvoice(ctx context.Context, auth model.AccountingAuth, req model.InvoiceRequest) (*model.Invoice, error) {
	payload := invoicePayload{
		DocNumber:   req.DocNumber,
		CustomerRef: reference{Value: req.CustomerRef},
		Line:        make([]invoiceLine, 0, len(req.Lines)),
	}
	if !req.TxnDate.IsZero() {
		payload.TxnDate = req.TxnDate.Format(txnDateLayout)
	}
	for _, l := range req.Lines {
		payload.Line = append(payload.Line, invoiceLine{
			DetailType:  "SalesItemLineDetail",
			Amount:      l.Amount,
			Description: l.Description,
			SalesItemLineDetail: salesItemLineDetail{
				ItemRef:   reference{Value: l.ItemRef},
				Qty:       l.Quantity,
				UnitPrice: l.UnitPrice,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}

	var env invoiceEnvelope
	if err := c.doJSON(ctx, auth, http.MethodPost, "invoice", bytes.NewReader(body), &env); err != nil {
		return nil, fmt.Errorf("create invoice %s: %w", req.DocNumber, err)
	}
	if env.Invoice.ID == "" {
		return nil, fmt.Errorf("create invoice %s: response carried no invoice id", req.DocNumber)
	}

	return mapInvoice(env.Invoice), nil
}

// FetchInvoice returns the invoice with the given ID.
func (c *AccountingClient) FetchInvoice(ctx context.Context, auth model.AccountingAuth, invoiceID string) (*model.Invoice, error) {
	var env invoiceEnvelope
	if err := c.doJSON(ctx, auth, http.MethodGet, "invoice/"+url.PathEscape(invoiceID), nil, &env); err != nil {
		return nil, fmt.Errorf("fetch invoice %s: %w", invoiceID, err)
	}
	return mapInvoice(env.Invoice), nil
}

// InvoicePDF downloads the PDF rendition of invoice. An empty body yields nil.
func (c *AccountingClient) InvoicePDF(ctx context.Context, auth model.AccountingAuth, invoice model.Invoice) ([]byte, error) {
	req, err := c.newRequest(ctx, auth, http.MethodGet, "invoice/"+url.PathEscape(invoice.ID)+"/pdf", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.httpClient(auth).Do(req)
	if err != nil {
		return nil, fmt.Errorf("download invoice %s pdf: %w", invoice.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download invoice %s pdf: %w", invoice.ID, decodeFault(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read invoice %s pdf: %w", invoice.ID, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (c *AccountingClient) doJSON(ctx context.Context, auth model.AccountingAuth, method, resource string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, auth, method, resource, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(auth).Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeFault(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", resource, err)
	}
	return nil
}

func (c *AccountingClient) newRequest(ctx context.Context, auth model.AccountingAuth, method, resource string, body io.Reader) (*http.Request, error) {
	if auth.AccessToken == "" || auth.CompanyID == "" {
		return nil, fmt.Errorf("accounting request %s: access token and company id are required", resource)
	}

	u := fmt.Sprintf("%s/v3/company/%s/%s?minorversion=%s",
		c.baseURL, url.PathEscape(auth.CompanyID), resource, minorVersion)

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", resource, err)
	}
	return req, nil
}

// httpClient builds a short-lived client that injects the call's bearer token.
func (c *AccountingClient) httpClient(auth model.AccountingAuth) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.AccessToken, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}
}

func decodeFault(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var fault faultEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&fault); err == nil {
		apiErr.FaultType = fault.Fault.Type
		if len(fault.Fault.Error) > 0 {
			first := fault.Fault.Error[0]
			apiErr.Code = first.Code
			apiErr.Message = first.Message
			if first.Detail != "" {
				apiErr.Message += ": " + first.Detail
			}
		}
	}
	return apiErr
}

func mapInvoice(e invoiceEntity) *model.Invoice {
	return &model.Invoice{ID: e.ID, DocNumber: e.DocNumber, TotalAmount: e.TotalAmt}
}
