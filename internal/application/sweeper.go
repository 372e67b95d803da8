package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// inFlightChecker reports whether an invoice task still owns a shipment.
type inFlightChecker interface {
	InFlight(id int64) bool
}

// StaleInvoiceSweeper repairs shipments left in an invoicing status by a
// crash or restart. Shipments without an invoice go back to pending; those
// with one move on to awaiting_shipment.
type StaleInvoiceSweeper struct {
	shipments  driven.ShipmentStore
	tasks      inFlightChecker
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger

	cron *cron.Cron
}

// NewStaleInvoiceSweeper creates a StaleInvoiceSweeper.
func NewStaleInvoiceSweeper(shipments driven.ShipmentStore, tasks inFlightChecker, staleAfter time.Duration) *StaleInvoiceSweeper {
	return &StaleInvoiceSweeper{
		shipments:  shipments,
		tasks:      tasks,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Start runs Sweep on the given cron schedule until Stop is called.
func (s *StaleInvoiceSweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("stale invoice sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stale invoice sweep %q: %w", schedule, err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("stale invoice sweeper started", "schedule", schedule, "stale_after", s.staleAfter)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *StaleInvoiceSweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep repairs every stale shipment once and returns how many it changed.
func (s *StaleInvoiceSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.shipments.ListStale(ctx,
		[]model.ShipmentStatus{model.ShipmentStatusGeneratingInvoice, model.ShipmentStatusDownloadingPackslip},
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("list stale shipments: %w", err)
	}

	repaired := 0
	for _, shipment := range stale {
		if s.tasks != nil && s.tasks.InFlight(shipment.ID) {
			continue
		}

		target := model.ShipmentStatusPending
		if shipment.HasInvoice() {
			target = model.ShipmentStatusAwaitingShipment
		}

		err := s.shipments.TransitionStatus(ctx, shipment.ID, shipment.Status, target)
		if errors.Is(err, driven.ErrStatusConflict) || errors.Is(err, driven.ErrShipmentNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to repair stale shipment", "shipment_id", shipment.ID, "error", err)
			continue
		}

		s.logger.Warn("repaired stale shipment", "shipment_id", shipment.ID, "from", shipment.Status, "to", target)
		repaired++
	}

	return repaired, nil
}
