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

// InsertTransaction appends a callback audit row. The table is append-only;
// nothing ever updates these rows.
func (d *DB) InsertTransaction(ctx context.Context, tx *models.MpesaTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	_, err := d.Bun.NewInsert().Model(tx).Exec(ctx)
	return err
}

// GetOrderByPaymentReference matches a callback's correlation id to the
// order that initiated the push. Returns (nil, nil) when nothing matches.
func (d *DB) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("payment_reference = ?", reference).
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

// MarkOrderPaid transitions pending -> paid. The status guard in the WHERE
// clause makes the transition a compare-and-swap: a duplicate callback (or a
// concurrent one) finds zero pending rows and reports false.
func (d *DB) MarkOrderPaid(ctx context.Context, orderID, payerPhone string) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_status = ?", models.PaymentPaid).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Where("payment_status = ?", models.PaymentPending)
	if payerPhone != "" {
		q = q.Set("phone_number = ?", payerPhone)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkOrderFailed transitions pending -> failed with the same CAS guard.
func (d *DB) MarkOrderFailed(ctx context.Context, orderID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_status = ?", models.PaymentFailed).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", orderID).
		Where("payment_status = ?", models.PaymentPending).
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

// GetTransactionsByOrder returns the audit rows linked to an order, newest
// first.
func (d *DB) GetTransactionsByOrder(ctx context.Context, orderID string) ([]models.MpesaTransaction, error) {
	var txs []models.MpesaTransaction
	err := d.Bun.NewSelect().
		Model(&txs).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return txs, nil
}
