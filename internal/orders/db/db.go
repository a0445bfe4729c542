package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tikiti/internal/models"

	"github.com/uptrace/bun"
)

// ErrSoldOut means the category has no remaining capacity.
var ErrSoldOut = errors.New("ticket category sold out")

type DB struct {
	Bun *bun.DB
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

// CreateOrderWithReservation inserts the order only if the category still has
// capacity. The category row is locked for the duration of the transaction,
// so concurrent orders for the same category serialize and the count cannot
// oversell. Failed orders release their slot by not counting.
func (d *DB) CreateOrderWithReservation(ctx context.Context, order *models.Order) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var category models.TicketCategory
		err := tx.NewSelect().
			Model(&category).
			Where("id = ?", order.TicketCategoryID).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("ticket category not found")
		}
		if err != nil {
			return err
		}

		taken, err := tx.NewSelect().
			Model((*models.Order)(nil)).
			Where("ticket_category_id = ?", order.TicketCategoryID).
			Where("payment_status <> ?", models.PaymentFailed).
			Count(ctx)
		if err != nil {
			return err
		}
		if taken >= category.Quantity {
			return ErrSoldOut
		}

		_, err = tx.NewInsert().Model(order).Exec(ctx)
		return err
	})
}

// SetPaymentReference records the gateway's checkout identifier on a pending
// order so the asynchronous callback can find it.
func (d *DB) SetPaymentReference(ctx context.Context, orderID, reference string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_reference = ?", reference).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Exec(ctx)
	return err
}

func (d *DB) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Event").
		Relation("Category").
		Relation("Tickets").
		Where("\"order\".id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Event").
		Relation("Category").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *DB) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Event").
		Relation("Category").
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}
