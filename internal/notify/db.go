package notify

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

// Claim records that a (ticket, channel) notification is being delivered.
// The unique constraint makes the insert a race-free idempotency check: a
// false return means another consumer already delivered this task.
func (d *DB) Claim(ctx context.Context, ticketID, channel string) (bool, error) {
	notification := &models.Notification{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		Channel:   channel,
		CreatedAt: time.Now(),
	}
	res, err := d.Bun.NewInsert().
		Model(notification).
		On("CONFLICT (ticket_id, channel) DO NOTHING").
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

// Release drops a claim after a failed delivery so the task can be retried.
func (d *DB) Release(ctx context.Context, ticketID, channel string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.Notification)(nil)).
		Where("ticket_id = ?", ticketID).
		Where("channel = ?", channel).
		Exec(ctx)
	return err
}

// GetTicketForDelivery loads a ticket with everything a notification needs:
// the order, its owner and the event.
func (d *DB) GetTicketForDelivery(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Relation("Order").
		Relation("Order.User").
		Relation("Order.Event").
		Relation("Category").
		Where("ticket.id = ?", ticketID).
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
