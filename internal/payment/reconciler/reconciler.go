package reconciler

import (
	"context"
	"encoding/json"
	"fmt"

	"tikiti/internal/logger"
	"tikiti/internal/models"
)

// Outcome names what a callback delivery did to the system.
type Outcome string

const (
	// OutcomePaid: the order was transitioned to paid (ticket issuance
	// attempted, its failure does not change the outcome).
	OutcomePaid Outcome = "paid"
	// OutcomeFailed: the order was transitioned to failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeOrphaned: no order matched the correlation id; only the audit
	// row was written.
	OutcomeOrphaned Outcome = "orphaned"
	// OutcomeDuplicate: the order had already left pending; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInvalid: the payload did not contain the expected envelope.
	OutcomeInvalid Outcome = "invalid"
)

type OrderStore interface {
	InsertTransaction(ctx context.Context, tx *models.MpesaTransaction) error
	GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID, payerPhone string) (bool, error)
	MarkOrderFailed(ctx context.Context, orderID string) (bool, error)
}

type TicketIssuer interface {
	Issue(ctx context.Context, order *models.Order) (*models.Ticket, error)
}

// Reconciler drives the order state machine from gateway callbacks. It is
// safe against duplicate and late deliveries: the financial transition is a
// compare-and-swap on the pending status, and issuance is idempotent.
type Reconciler struct {
	DB     OrderStore
	Issuer TicketIssuer
	Log    *logger.Logger
}

func New(db OrderStore, issuer TicketIssuer, log *logger.Logger) *Reconciler {
	return &Reconciler{DB: db, Issuer: issuer, Log: log}
}

// Reconcile processes one raw callback payload. The audit row is written
// before any state transition; the only hard errors are audit-write and
// transition failures — an unmatched callback is not an error, because the
// gateway must never be told to retry.
func (r *Reconciler) Reconcile(ctx context.Context, payload []byte) (Outcome, error) {
	var envelope models.STKCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Body.StkCallback == nil {
		r.Log.Error("RECONCILE", "Callback payload missing Body.stkCallback envelope")
		return OutcomeInvalid, fmt.Errorf("invalid callback payload")
	}

	details := envelope.Body.StkCallback.Flatten()

	// The lookup is read-only and precedes the audit insert only so the
	// audit row can carry the order link; a lookup failure still leaves an
	// unlinked audit row behind.
	order, lookupErr := r.DB.GetOrderByPaymentReference(ctx, details.CheckoutRequestID)
	if lookupErr != nil {
		r.Log.Error("RECONCILE", fmt.Sprintf("Order lookup failed for %s: %v", details.CheckoutRequestID, lookupErr))
	}

	audit := &models.MpesaTransaction{
		MerchantRequestID:  details.MerchantRequestID,
		CheckoutRequestID:  details.CheckoutRequestID,
		ResultCode:         details.ResultCode,
		ResultDesc:         details.ResultDesc,
		Amount:             details.Amount,
		MpesaReceiptNumber: details.ReceiptNumber,
		TransactionDate:    details.TransactionDate,
		PhoneNumber:        details.PhoneNumber,
		CallbackPayload:    string(payload),
	}
	if order != nil {
		audit.OrderID = order.ID
	}
	if err := r.DB.InsertTransaction(ctx, audit); err != nil {
		return OutcomeInvalid, fmt.Errorf("failed to record transaction: %w", err)
	}

	if lookupErr != nil {
		return OutcomeOrphaned, lookupErr
	}
	if order == nil {
		r.Log.Warn("RECONCILE", fmt.Sprintf("No order found for checkout request %s", details.CheckoutRequestID))
		return OutcomeOrphaned, nil
	}

	if details.ResultCode == 0 {
		return r.settleSuccess(ctx, order, details)
	}
	return r.settleFailure(ctx, order, details)
}

func (r *Reconciler) settleSuccess(ctx context.Context, order *models.Order, details models.STKCallbackDetails) (Outcome, error) {
	ok, err := r.DB.MarkOrderPaid(ctx, order.ID, details.PhoneNumber)
	if err != nil {
		return OutcomeInvalid, fmt.Errorf("failed to mark order %s paid: %w", order.ID, err)
	}
	if !ok {
		r.Log.Warn("RECONCILE", fmt.Sprintf("Order %s already settled, ignoring duplicate callback %s",
			order.OrderNumber, details.CheckoutRequestID))
		return OutcomeDuplicate, nil
	}

	r.Log.LogOrder("PAID", order.OrderNumber,
		fmt.Sprintf("M-Pesa receipt %s for %.0f", details.ReceiptNumber, details.Amount))

	order.PaymentStatus = models.PaymentPaid
	if details.PhoneNumber != "" {
		order.PhoneNumber = details.PhoneNumber
	}

	// Issuance failure never rolls back the payment: the order stays paid
	// and the sweeper picks it up later.
	if _, err := r.Issuer.Issue(ctx, order); err != nil {
		r.Log.Error("RECONCILE", fmt.Sprintf("Failed to issue ticket for order %s: %v", order.ID, err))
	}
	return OutcomePaid, nil
}

func (r *Reconciler) settleFailure(ctx context.Context, order *models.Order, details models.STKCallbackDetails) (Outcome, error) {
	ok, err := r.DB.MarkOrderFailed(ctx, order.ID)
	if err != nil {
		return OutcomeInvalid, fmt.Errorf("failed to mark order %s failed: %w", order.ID, err)
	}
	if !ok {
		r.Log.Warn("RECONCILE", fmt.Sprintf("Order %s already settled, ignoring duplicate callback %s",
			order.OrderNumber, details.CheckoutRequestID))
		return OutcomeDuplicate, nil
	}
	r.Log.LogOrder("PAYMENT_FAILED", order.OrderNumber, details.ResultDesc)
	return OutcomeFailed, nil
}
