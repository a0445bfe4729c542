package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/tickets/qr"
)

var (
	ErrNotFound         = errors.New("ticket not found")
	ErrAlreadyCheckedIn = errors.New("ticket already checked in")
)

const (
	ReasonInvalidFormat     = "Invalid QR code format"
	ReasonNotFound          = "Ticket not found"
	ReasonEventMismatch     = "Event mismatch"
	ReasonAlreadyCheckedIn  = "Ticket already checked in"
	ReasonPaymentIncomplete = "Payment not completed"
	ReasonInvalidChecksum   = "Invalid checksum"
)

// Store is the persistence surface gate-side verification needs.
type Store interface {
	GetTicketByUUID(ctx context.Context, ticketUUID string) (*models.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	CheckInTicket(ctx context.Context, ticketID string, at time.Time) (bool, error)
	InsertCheckIn(ctx context.Context, ticketID, agentID string, at time.Time) error
}

// Result is the outcome of validating a scanned QR payload.
type Result struct {
	Valid  bool           `json:"valid"`
	Reason string         `json:"reason,omitempty"`
	Ticket *models.Ticket `json:"ticket,omitempty"`
}

type Verifier struct {
	Store  Store
	Secret string
	Log    *logger.Logger
}

// Validate checks a scanned QR payload without mutating anything. Checks run
// in a fixed order and the first failure wins.
func (v *Verifier) Validate(ctx context.Context, qrData string) (Result, error) {
	payload, err := qr.Decode(qrData)
	if err != nil {
		return Result{Reason: ReasonInvalidFormat}, nil
	}

	ticket, err := v.Store.GetTicketByUUID(ctx, payload.TicketID)
	if err != nil {
		return Result{}, err
	}
	if ticket == nil || ticket.Order == nil {
		return Result{Reason: ReasonNotFound}, nil
	}

	if ticket.Order.EventID != payload.EventID {
		return Result{Reason: ReasonEventMismatch}, nil
	}

	if ticket.CheckedIn {
		return Result{Reason: ReasonAlreadyCheckedIn, Ticket: ticket}, nil
	}

	if ticket.Order.PaymentStatus != models.PaymentPaid {
		return Result{Reason: ReasonPaymentIncomplete}, nil
	}

	expected := qr.Checksum(ticket.UUID, ticket.Order.EventID, ticket.Order.UserID, v.Secret)
	if payload.Checksum != expected {
		return Result{Reason: ReasonInvalidChecksum}, nil
	}

	return Result{Valid: true, Ticket: ticket}, nil
}

// Scan looks up a ticket by its scannable code without changing its state.
func (v *Verifier) Scan(ctx context.Context, code string) (*models.Ticket, error) {
	ticket, err := v.Store.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, ErrNotFound
	}
	return ticket, nil
}

// CheckIn consumes a ticket at the gate. The flip is a guarded update, so of
// any number of concurrent scans of the same code exactly one succeeds and
// the rest get ErrAlreadyCheckedIn.
func (v *Verifier) CheckIn(ctx context.Context, code, agentID string) (*models.Ticket, error) {
	ticket, err := v.Store.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, ErrNotFound
	}

	now := time.Now()
	ok, err := v.Store.CheckInTicket(ctx, ticket.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return ticket, ErrAlreadyCheckedIn
	}

	ticket.CheckedIn = true
	ticket.CheckedInAt = &now

	if err := v.Store.InsertCheckIn(ctx, ticket.ID, agentID, now); err != nil {
		v.Log.Error("TICKET", fmt.Sprintf("Failed to record check-in audit for ticket %s: %v", ticket.ID, err))
	}

	v.Log.LogTicket("CHECK_IN", ticket.ID, fmt.Sprintf("Ticket %s checked in by agent %s", code, agentID))
	return ticket, nil
}
