package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ShipmentStore = (*ShipmentRepo)(nil)

// ShipmentRepo is the SQLite implementation of the ShipmentStore port interface.
type ShipmentRepo struct {
	db  *DB
	now func() time.Time
}

// NewShipmentRepo creates a new ShipmentRepo backed by the given DB.
func NewShipmentRepo(db *DB) *ShipmentRepo {
	return &ShipmentRepo{db: db, now: time.Now}
}

const shipmentColumns = `id, description, status, shipped_at, invoice_id, invoice_pdf_key, created_at, updated_at`

// Create inserts a shipment and its items in one transaction.
func (r *ShipmentRepo) Create(ctx context.Context, shipment model.Shipment) (*model.Shipment, error) {
	status := shipment.Status
	if status == "" {
		status = model.ShipmentStatusPending
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create shipment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(r.now())
	const query = `
		INSERT INTO shipments (description, status, shipped_at, invoice_id, invoice_pdf_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		shipment.Description, string(status), formatTime(shipment.ShippedAt),
		nullString(shipment.InvoiceID), nullString(shipment.InvoicePDFKey), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert shipment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read shipment id: %w", err)
	}

	if err := insertItems(ctx, tx, id, shipment.Items, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit shipment: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByID returns a shipment with its items.
func (r *ShipmentRepo) GetByID(ctx context.Context, id int64) (*model.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = ?`

	shipment, err := scanShipment(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get shipment %d: %w", id, driven.ErrShipmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment %d: %w", id, err)
	}

	items, err := r.itemsFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	shipment.Items = items[id]

	return shipment, nil
}

// ListAll returns every shipment ordered newest first.
func (r *ShipmentRepo) ListAll(ctx context.Context) ([]model.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments ORDER BY created_at DESC, id DESC`
	return r.queryShipments(ctx, query)
}

// ListStale returns shipments in any of the given statuses whose updated_at is before the cutoff.
func (r *ShipmentRepo) ListStale(ctx context.Context, statuses []model.ShipmentStatus, before time.Time) ([]model.Shipment, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := `SELECT ` + shipmentColumns + ` FROM shipments
		WHERE status IN (` + placeholders + `) AND updated_at < ?
		ORDER BY updated_at`

	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, formatTime(before))

	return r.queryShipments(ctx, query, args...)
}

// UpdateDetails replaces the description and the item list.
func (r *ShipmentRepo) UpdateDetails(ctx context.Context, shipment model.Shipment) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update shipment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(r.now())
	const query = `UPDATE shipments SET description = ?, updated_at = ? WHERE id = ?`
	result, err := tx.ExecContext(ctx, query, shipment.Description, now, shipment.ID)
	if err != nil {
		return fmt.Errorf("update shipment %d: %w", shipment.ID, err)
	}
	if err := requireAffected(result, shipment.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM shipment_items WHERE shipment_id = ?`, shipment.ID); err != nil {
		return fmt.Errorf("clear items for shipment %d: %w", shipment.ID, err)
	}
	if err := insertItems(ctx, tx, shipment.ID, shipment.Items, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shipment %d: %w", shipment.ID, err)
	}
	return nil
}

// TransitionStatus moves a shipment from one status to another in a single
// conditional UPDATE. Moves the lifecycle does not allow never reach the DB.
func (r *ShipmentRepo) TransitionStatus(ctx context.Context, id int64, from, to model.ShipmentStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("shipment %d %s->%s: %w", id, from, to, driven.ErrTransitionNotAllowed)
	}

	const query = `UPDATE shipments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(to), formatTime(r.now()), id, string(from))
	if err != nil {
		return fmt.Errorf("transition shipment %d %s->%s: %w", id, from, to, err)
	}
	return r.conditionalResult(ctx, result, id, driven.ErrStatusConflict)
}

// MarkShipped moves an awaiting shipment to shipped and records shippedAt.
func (r *ShipmentRepo) MarkShipped(ctx context.Context, id int64, shippedAt time.Time) error {
	const query = `
		UPDATE shipments SET status = ?, shipped_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(model.ShipmentStatusShipped), formatTime(shippedAt), formatTime(r.now()),
		id, string(model.ShipmentStatusAwaitingShipment),
	)
	if err != nil {
		return fmt.Errorf("mark shipment %d shipped: %w", id, err)
	}
	return r.conditionalResult(ctx, result, id, driven.ErrStatusConflict)
}

// SetInvoiceID records the external invoice ID only if none is stored yet.
func (r *ShipmentRepo) SetInvoiceID(ctx context.Context, id int64, invoiceID string) error {
	const query = `UPDATE shipments SET invoice_id = ?, updated_at = ? WHERE id = ? AND invoice_id IS NULL`

	result, err := r.db.Writer.ExecContext(ctx, query, invoiceID, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("set invoice id for shipment %d: %w", id, err)
	}
	return r.conditionalResult(ctx, result, id, driven.ErrInvoiceAlreadySet)
}

// AttachInvoicePDF records the blob key of the invoice PDF.
func (r *ShipmentRepo) AttachInvoicePDF(ctx context.Context, id int64, blobKey string) error {
	const query = `UPDATE shipments SET invoice_pdf_key = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, blobKey, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("attach invoice pdf to shipment %d: %w", id, err)
	}
	return requireAffected(result, id)
}

// Delete removes a shipment. Items are removed by ON DELETE CASCADE.
func (r *ShipmentRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Writer.ExecContext(ctx, `DELETE FROM shipments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete shipment %d: %w", id, err)
	}
	return requireAffected(result, id)
}

// conditionalResult distinguishes a missing row from a failed condition when
// a conditional UPDATE touched nothing.
func (r *ShipmentRepo) conditionalResult(ctx context.Context, result sql.Result, id int64, conflict error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = r.db.Writer.QueryRowContext(ctx, `SELECT 1 FROM shipments WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("shipment %d: %w", id, driven.ErrShipmentNotFound)
	}
	if err != nil {
		return fmt.Errorf("check shipment %d: %w", id, err)
	}
	return fmt.Errorf("shipment %d: %w", id, conflict)
}

func requireAffected(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("shipment %d: %w", id, driven.ErrShipmentNotFound)
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, shipmentID int64, items []model.ShipmentItem, now any) error {
	const query = `INSERT INTO shipment_items (shipment_id, name, quantity, created_at) VALUES (?, ?, ?, ?)`

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, query, shipmentID, item.Name, item.Quantity, now); err != nil {
			return fmt.Errorf("insert item %q for shipment %d: %w", item.Name, shipmentID, err)
		}
	}
	return nil
}

func (r *ShipmentRepo) queryShipments(ctx context.Context, query string, args ...any) ([]model.Shipment, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	defer rows.Close()

	var shipments []model.Shipment
	var ids []int64
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		shipments = append(shipments, *s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipments: %w", err)
	}

	if len(ids) == 0 {
		return shipments, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range shipments {
		shipments[i].Items = items[shipments[i].ID]
	}

	return shipments, nil
}

// itemsFor loads the items of the given shipments keyed by shipment ID.
func (r *ShipmentRepo) itemsFor(ctx context.Context, ids []int64) (map[int64][]model.ShipmentItem, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := `SELECT id, shipment_id, name, quantity FROM shipment_items
		WHERE shipment_id IN (` + placeholders + `) ORDER BY id`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shipment items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]model.ShipmentItem, len(ids))
	for rows.Next() {
		var item model.ShipmentItem
		if err := rows.Scan(&item.ID, &item.ShipmentID, &item.Name, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan shipment item: %w", err)
		}
		items[item.ShipmentID] = append(items[item.ShipmentID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipment items: %w", err)
	}

	return items, nil
}

func scanShipment(s scanner) (*model.Shipment, error) {
	var (
		shipment             model.Shipment
		status               string
		shippedAt            sql.NullString
		invoiceID, pdfKey    sql.NullString
		createdAt, updatedAt string
	)

	err := s.Scan(&shipment.ID, &shipment.Description, &status, &shippedAt,
		&invoiceID, &pdfKey, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	shipment.Status = model.ShipmentStatus(status)
	if !shipment.Status.Valid() {
		return nil, fmt.Errorf("shipment %d has unknown status %q", shipment.ID, status)
	}
	shipment.InvoiceID = invoiceID.String
	shipment.InvoicePDFKey = pdfKey.String

	if shipment.ShippedAt, err = parseNullTime(shippedAt); err != nil {
		return nil, fmt.Errorf("parse shipped_at: %w", err)
	}
	if shipment.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if shipment.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &shipment, nil
}
