package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// DefaultInvoiceRetry is the retry policy for invoice creation tasks.
var DefaultInvoiceRetry = driven.RetryPolicy{Attempts: 3, Delay: 5 * time.Minute}

// freshTokenSource is the part of TokenService the workflow needs.
type freshTokenSource interface {
	EnsureFresh(ctx context.Context) (*model.Credential, error)
}

// InvoiceWorkflow drives shipments through invoicing and the later
// fulfillment statuses. Invoice creation runs as a background task that
// reverts the shipment to pending on any failure before the invoice exists.
type InvoiceWorkflow struct {
	shipments   driven.ShipmentStore
	credentials driven.CredentialStore
	tokens      freshTokenSource
	accounting  driven.AccountingClient
	blobs       driven.BlobStore
	runner      driven.TaskRunner
	defaults    InvoiceDefaults
	retry       driven.RetryPolicy
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewInvoiceWorkflow creates an InvoiceWorkflow using DefaultInvoiceRetry.
func NewInvoiceWorkflow(
	shipments driven.ShipmentStore,
	credentials driven.CredentialStore,
	tokens freshTokenSource,
	accounting driven.AccountingClient,
	blobs driven.BlobStore,
	runner driven.TaskRunner,
	defaults InvoiceDefaults,
) *InvoiceWorkflow {
	return &InvoiceWorkflow{
		shipments:   shipments,
		credentials: credentials,
		tokens:      tokens,
		accounting:  accounting,
		blobs:       blobs,
		runner:      runner,
		defaults:    defaults,
		retry:       DefaultInvoiceRetry,
		now:         time.Now,
		logger:      slog.Default(),
		inFlight:    make(map[int64]struct{}),
	}
}

// RequestInvoice moves a pending shipment to generating_invoice and enqueues
// exactly one invoice-creation task. A shipment that already has an invoice
// yields ErrInvoiceAlreadyExists and a missing connection ErrNotConnected;
// neither changes the shipment or enqueues anything.
func (w *InvoiceWorkflow) RequestInvoice(ctx context.Context, id int64) error {
	shipment, err := w.shipments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if shipment.HasInvoice() {
		return fmt.Errorf("shipment %d: %w", id, ErrInvoiceAlreadyExists)
	}

	cred, err := w.credentials.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	if cred == nil || !cred.HasAccessToken() {
		return ErrNotConnected
	}

	// A reverted shipment is pending again while its task still has
	// attempts left; that task owns the shipment until it finishes.
	if !w.claimInFlight(id) {
		return fmt.Errorf("shipment %d has an invoice task in flight: %w", id, ErrInvalidTransition)
	}

	err = w.shipments.TransitionStatus(ctx, id, model.ShipmentStatusPending, model.ShipmentStatusGeneratingInvoice)
	if err != nil {
		w.clearInFlight(id)
		if isTransitionRejected(err) {
			return fmt.Errorf("shipment %d is %s: %w", id, shipment.Status, ErrInvalidTransition)
		}
		return err
	}

	attempt := 0
	w.runner.Enqueue("quickbooks-create-invoice-"+strconv.FormatInt(id, 10), w.retry, func(ctx context.Context) error {
		attempt++
		err := w.CreateInvoice(ctx, id)
		if err == nil || attempt >= w.retry.Attempts {
			w.clearInFlight(id)
		}
		return err
	})

	w.logger.Info("invoice creation enqueued", "shipment_id", id)
	return nil
}

// CreateInvoice is the invoice-creation task body. It is safe to run again
// after a failure: a shipment that already has an invoice is left alone and
// a reverted shipment is moved back to generating_invoice first.
func (w *InvoiceWorkflow) CreateInvoice(ctx context.Context, id int64) error {
	shipment, err := w.shipments.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load shipment %d: %w", id, err)
	}
	if shipment.HasInvoice() {
		w.logger.Info("invoice already exists for shipment", "shipment_id", id, "invoice_id", shipment.InvoiceID)
		return nil
	}

	switch shipment.Status {
	case model.ShipmentStatusGeneratingInvoice:
	case model.ShipmentStatusPending:
		if err := w.shipments.TransitionStatus(ctx, id, model.ShipmentStatusPending, model.ShipmentStatusGeneratingInvoice); err != nil {
			return fmt.Errorf("resume shipment %d: %w", id, err)
		}
	default:
		w.logger.Warn("shipment no longer awaiting an invoice, dropping task", "shipment_id", id, "status", shipment.Status)
		return nil
	}

	cred, err := w.tokens.EnsureFresh(ctx)
	if err != nil {
		w.revert(ctx, id, err)
		return fmt.Errorf("ensure fresh token: %w", err)
	}
	auth := model.AccountingAuth{AccessToken: cred.AccessToken, CompanyID: cred.RealmID}

	req := BuildInvoiceRequest(*shipment, w.defaults, w.now())
	invoice, err := w.accounting.CreateInvoice(ctx, auth, req)
	if err != nil {
		w.revert(ctx, id, err)
		return fmt.Errorf("%w: %w", ErrAccountingAPI, err)
	}

	if err := w.shipments.SetInvoiceID(ctx, id, invoice.ID); err != nil {
		if errors.Is(err, driven.ErrInvoiceAlreadySet) {
			w.logger.Warn("shipment invoiced concurrently, keeping existing invoice id", "shipment_id", id, "invoice_id", invoice.ID)
			return nil
		}
		w.revert(ctx, id, err)
		return fmt.Errorf("store invoice id: %w", err)
	}
	w.logger.Info("created quickbooks invoice", "shipment_id", id, "invoice_id", invoice.ID, "doc_number", req.DocNumber)

	// From here on the invoice exists; status problems are left to the sweeper.
	err = w.shipments.TransitionStatus(ctx, id, model.ShipmentStatusGeneratingInvoice, model.ShipmentStatusDownloadingPackslip)
	if err != nil {
		w.logger.Error("failed to advance shipment to downloading_packslip", "shipment_id", id, "error", err)
		return nil
	}

	if err := w.attachPDF(ctx, id, auth, *invoice); err != nil {
		w.logger.Warn("invoice pdf not attached", "shipment_id", id, "invoice_id", invoice.ID, "error", err)
	}

	err = w.shipments.TransitionStatus(ctx, id, model.ShipmentStatusDownloadingPackslip, model.ShipmentStatusAwaitingShipment)
	if err != nil {
		w.logger.Error("failed to advance shipment to awaiting_shipment", "shipment_id", id, "error", err)
		return nil
	}

	w.logger.Info("shipment ready for shipping", "shipment_id", id)
	return nil
}

// attachPDF downloads the invoice PDF and stores it. No data is not an error.
func (w *InvoiceWorkflow) attachPDF(ctx context.Context, id int64, auth model.AccountingAuth, created model.Invoice) error {
	invoice, err := w.accounting.FetchInvoice(ctx, auth, created.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPDFRetrieval, err)
	}

	data, err := w.accounting.InvoicePDF(ctx, auth, *invoice)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPDFRetrieval, err)
	}
	if len(data) == 0 {
		w.logger.Warn("no pdf data received for invoice", "shipment_id", id, "invoice_id", created.ID)
		return nil
	}

	key := fmt.Sprintf("invoices/%d/%s.pdf", id, uuid.NewString())
	blob := driven.Blob{
		Key:         key,
		Filename:    fmt.Sprintf("invoice_%s.pdf", created.ID),
		ContentType: "application/pdf",
		Data:        data,
	}
	if err := w.blobs.Put(ctx, blob); err != nil {
		return fmt.Errorf("%w: %w", ErrPDFRetrieval, err)
	}
	if err := w.shipments.AttachInvoicePDF(ctx, id, key); err != nil {
		return fmt.Errorf("%w: %w", ErrPDFRetrieval, err)
	}

	w.logger.Info("attached invoice pdf", "shipment_id", id, "invoice_id", created.ID, "bytes", len(data))
	return nil
}

func (w *InvoiceWorkflow) revert(ctx context.Context, id int64, cause error) {
	w.logger.Error("invoice creation failed, reverting shipment to pending", "shipment_id", id, "error", cause)

	err := w.shipments.TransitionStatus(ctx, id, model.ShipmentStatusGeneratingInvoice, model.ShipmentStatusPending)
	if err != nil {
		w.logger.Error("failed to revert shipment to pending", "shipment_id", id, "error", err)
	}
}

// Cancel moves a pending shipment to cancelled.
func (w *InvoiceWorkflow) Cancel(ctx context.Context, id int64) error {
	return w.transition(ctx, id, model.ShipmentStatusPending, model.ShipmentStatusCancelled)
}

// Ship moves an awaiting shipment to shipped and records the time.
func (w *InvoiceWorkflow) Ship(ctx context.Context, id int64) error {
	err := w.shipments.MarkShipped(ctx, id, w.now())
	if errors.Is(err, driven.ErrStatusConflict) {
		return fmt.Errorf("shipment %d: %w", id, ErrInvalidTransition)
	}
	return err
}

// Deliver moves a shipped shipment to delivered.
func (w *InvoiceWorkflow) Deliver(ctx context.Context, id int64) error {
	return w.transition(ctx, id, model.ShipmentStatusShipped, model.ShipmentStatusDelivered)
}

func (w *InvoiceWorkflow) transition(ctx context.Context, id int64, from, to model.ShipmentStatus) error {
	err := w.shipments.TransitionStatus(ctx, id, from, to)
	if isTransitionRejected(err) {
		return fmt.Errorf("shipment %d cannot move to %s: %w", id, to, ErrInvalidTransition)
	}
	if err != nil {
		return err
	}
	w.logger.Info("shipment status changed", "shipment_id", id, "from", from, "to", to)
	return nil
}

// InFlight reports whether an invoice task for the shipment is queued or running.
func (w *InvoiceWorkflow) InFlight(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inFlight[id]
	return ok
}

// claimInFlight marks the shipment as owned by a task. It returns false if
// another task already owns it.
func (w *InvoiceWorkflow) claimInFlight(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *InvoiceWorkflow) clearInFlight(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, id)
}

func isTransitionRejected(err error) bool {
	return errors.Is(err, driven.ErrStatusConflict) || errors.Is(err, driven.ErrTransitionNotAllowed)
}
