package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tikiti/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ErrTicketExists reports that the order already has a ticket. The unique
// constraint on order_id makes the losing side of a concurrent issuance
// land here instead of inserting a second row.
var ErrTicketExists = errors.New("ticket already exists for order")

func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	res, err := d.Bun.NewInsert().
		Model(ticket).
		On("CONFLICT (order_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTicketExists
	}
	return nil
}

// UpdateTicketIssuance persists the checksum and final scannable code set
// during issuance.
func (d *DB) UpdateTicketIssuance(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.Bun.NewUpdate().
		Model(ticket).
		Column("qr_code", "checksum").
		Where("id = ?", ticket.ID).
		Exec(ctx)
	return err
}

// GetTicketByUUID fetches a ticket by its opaque external identifier, with
// the order and its event loaded for verification checks.
func (d *DB) GetTicketByUUID(ctx context.Context, ticketUUID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Relation("Order").
		Relation("Order.Event").
		Relation("Category").
		Where("ticket.uuid = ?", ticketUUID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketByCode fetches a ticket by its scannable code.
func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Relation("Order").
		Relation("Order.Event").
		Relation("Category").
		Where("ticket.qr_code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketByOrder returns the ticket issued for an order, if any.
func (d *DB) GetTicketByOrder(ctx context.Context, orderID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Relation("Order").
		Relation("Order.Event").
		Relation("Category").
		Join("JOIN orders AS o ON o.id = ticket.order_id").
		Where("o.user_id = ?", userID).
		Order("ticket.issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// CheckInTicket flips checked_in false -> true. The guard makes the flip a
// compare-and-swap so exactly one of N concurrent scans wins.
func (d *DB) CheckInTicket(ctx context.Context, ticketID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("checked_in = ?", true).
		Set("checked_in_at = ?", at).
		Where("id = ?", ticketID).
		Where("checked_in = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// InsertCheckIn appends a gate audit row.
func (d *DB) InsertCheckIn(ctx context.Context, ticketID, agentID string, at time.Time) error {
	checkIn := &models.CheckIn{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		AgentID:   agentID,
		CreatedAt: at,
	}
	_, err := d.Bun.NewInsert().Model(checkIn).Exec(ctx)
	return err
}

func (d *DB) GetCategoryByID(ctx context.Context, categoryID string) (*models.TicketCategory, error) {
	var category models.TicketCategory
	err := d.Bun.NewSelect().
		Model(&category).
		Where("id = ?", categoryID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// DefaultCategoryForEvent is the fallback for orders carrying no category
// reference: the event's first category. Ambiguous for multi-category
// events; callers log when they fall back to it.
func (d *DB) DefaultCategoryForEvent(ctx context.Context, eventID string) (*models.TicketCategory, error) {
	var category models.TicketCategory
	err := d.Bun.NewSelect().
		Model(&category).
		Where("event_id = ?", eventID).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (d *DB) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetUnfulfilledPaidOrders returns orders that are paid but have no ticket,
// settled before the cutoff. The recovery sweep feeds these back through the
// issuer.
func (d *DB) GetUnfulfilledPaidOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("payment_status = ?", models.PaymentPaid).
		Where("updated_at < ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM tickets t WHERE t.order_id = \"order\".id)").
		Order("updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}
