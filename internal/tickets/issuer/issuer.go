package issuer

import (
	"context"
	"fmt"
	"time"

	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/storage"
	"tikiti/internal/tickets/qr"
	"tikiti/internal/utils"

	"github.com/google/uuid"
)

// Store is the ticket persistence surface issuance needs.
type Store interface {
	GetTicketByOrder(ctx context.Context, orderID string) (*models.Ticket, error)
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	UpdateTicketIssuance(ctx context.Context, ticket *models.Ticket) error
	GetCategoryByID(ctx context.Context, categoryID string) (*models.TicketCategory, error)
	DefaultCategoryForEvent(ctx context.Context, eventID string) (*models.TicketCategory, error)
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
}

// Renderer produces the printable ticket document.
type Renderer interface {
	Generate(ticket *models.Ticket, order *models.Order, event *models.Event, qrImage []byte) ([]byte, error)
}

// Notifier hands off delivery work for an issued ticket.
type Notifier interface {
	EnqueueTicketNotifications(ctx context.Context, ticketID string) error
}

// IssuanceError reports which stage of issuance failed for an order.
type IssuanceError struct {
	OrderID string
	Stage   string
	Err     error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("ticket issuance for order %s failed at %s: %v", e.OrderID, e.Stage, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// Issuer turns a paid order into exactly one ticket: database row, checksum,
// scannable code, QR payload, rendered PDF and queued notifications.
type Issuer struct {
	Store     Store
	Renderer  Renderer
	Artifacts storage.ArtifactStore
	Notifier  Notifier
	Secret    string
	Log       *logger.Logger
}

// Issue creates the ticket for an order. It is idempotent: if the order
// already has a ticket it is returned unchanged, so retried callbacks and
// recovery sweeps never double-issue.
func (i *Issuer) Issue(ctx context.Context, order *models.Order) (*models.Ticket, error) {
	existing, err := i.Store.GetTicketByOrder(ctx, order.ID)
	if err != nil {
		return nil, &IssuanceError{OrderID: order.ID, Stage: "lookup", Err: err}
	}
	if existing != nil {
		i.Log.LogTicket("ISSUE_SKIP", existing.ID, fmt.Sprintf("Order %s already has a ticket", order.OrderNumber))
		return existing, nil
	}

	category, err := i.resolveCategory(ctx, order)
	if err != nil {
		return nil, &IssuanceError{OrderID: order.ID, Stage: "category", Err: err}
	}

	event, err := i.Store.GetEventByID(ctx, order.EventID)
	if err != nil {
		return nil, &IssuanceError{OrderID: order.ID, Stage: "event", Err: err}
	}
	if event == nil {
		return nil, &IssuanceError{OrderID: order.ID, Stage: "event", Err: fmt.Errorf("event %s not found", order.EventID)}
	}

	ticket := &models.Ticket{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		TicketCategoryID: category.ID,
		UUID:             uuid.NewString(),
		IssuedAt:         time.Now(),
	}
	// Placeholder until the final code is built from the ticket's own id.
	ticket.QRCode = "PENDING-" + ticket.ID

	if err := i.Store.CreateTicket(ctx, ticket); err != nil {
		// A concurrent issuance (retried callback vs. recovery sweep) may
		// have won the insert; the order_id unique constraint rejects ours.
		if winner, lookupErr := i.Store.GetTicketByOrder(ctx, order.ID); lookupErr == nil && winner != nil {
			i.Log.LogTicket("ISSUE_SKIP", winner.ID, fmt.Sprintf("Concurrent issuance won for order %s", order.OrderNumber))
			return winner, nil
		}
		return nil, &IssuanceError{OrderID: order.ID, Stage: "create", Err: err}
	}

	ticket.Checksum = qr.Checksum(ticket.UUID, order.EventID, order.UserID, i.Secret)
	ticket.QRCode = fmt.Sprintf("TKT-%s-%s-%s", order.ID, ticket.ID, utils.RandomUpper(5))

	if err := i.Store.UpdateTicketIssuance(ctx, ticket); err != nil {
		return nil, &IssuanceError{OrderID: order.ID, Stage: "finalize", Err: err}
	}

	i.Log.LogTicket("ISSUED", ticket.ID, fmt.Sprintf("Ticket %s issued for order %s", ticket.QRCode, order.OrderNumber))

	// Rendering and delivery are best-effort once the ticket row exists; the
	// ticket itself is the source of truth and stays valid at the gate.
	i.renderAndStore(ctx, ticket, order, event)

	if err := i.Notifier.EnqueueTicketNotifications(ctx, ticket.ID); err != nil {
		i.Log.Error("TICKET", fmt.Sprintf("Failed to enqueue notifications for ticket %s: %v", ticket.ID, err))
	}

	return ticket, nil
}

func (i *Issuer) resolveCategory(ctx context.Context, order *models.Order) (*models.TicketCategory, error) {
	if order.TicketCategoryID != "" {
		category, err := i.Store.GetCategoryByID(ctx, order.TicketCategoryID)
		if err != nil {
			return nil, err
		}
		if category != nil {
			return category, nil
		}
		i.Log.Warn("TICKET", fmt.Sprintf("Order %s references missing category %s, falling back", order.ID, order.TicketCategoryID))
	} else {
		i.Log.Warn("TICKET", fmt.Sprintf("Order %s has no category, falling back to event default", order.ID))
	}

	category, err := i.Store.DefaultCategoryForEvent(ctx, order.EventID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, fmt.Errorf("event %s has no ticket categories", order.EventID)
	}
	return category, nil
}

func (i *Issuer) renderAndStore(ctx context.Context, ticket *models.Ticket, order *models.Order, event *models.Event) {
	qrImage, err := qr.Encode(qr.Payload{
		TicketID: ticket.UUID,
		EventID:  order.EventID,
		Checksum: ticket.Checksum,
	})
	if err != nil {
		i.Log.Error("TICKET", fmt.Sprintf("Failed to encode QR for ticket %s: %v", ticket.ID, err))
		return
	}

	pdf, err := i.Renderer.Generate(ticket, order, event, qrImage)
	if err != nil {
		i.Log.Error("TICKET", fmt.Sprintf("Failed to render PDF for ticket %s: %v", ticket.ID, err))
		return
	}

	key := storage.TicketArtifactKey(ticket.QRCode)
	if err := i.Artifacts.Put(ctx, key, pdf, "application/pdf"); err != nil {
		i.Log.Error("TICKET", fmt.Sprintf("Failed to store PDF for ticket %s: %v", ticket.ID, err))
		return
	}
	i.Log.LogTicket("STORED", ticket.ID, fmt.Sprintf("Ticket document stored at %s", key))
}
