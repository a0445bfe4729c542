package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tikiti/internal/kafka"
	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Queue interface {
	Publish(topic string, key string, value []byte) error
}

// TransactionStore reads the callback audit trail.
type TransactionStore interface {
	GetTransactionsByOrder(ctx context.Context, orderID string) ([]models.MpesaTransaction, error)
}

// Handler receives the gateway's asynchronous callback. It only validates
// the envelope shape and hands the raw payload to the queue; the reconciler
// does the real work off the request thread. The gateway is always
// acknowledged so it never retries.
type Handler struct {
	Queue  Queue
	Store  TransactionStore
	Logger *logger.Logger
}

func NewHandler(queue Queue, store TransactionStore, log *logger.Logger) *Handler {
	return &Handler{Queue: queue, Store: store, Logger: log}
}

// MpesaCallback handles POST /api/payments/mpesa/callback.
func (h *Handler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeResult(w, http.StatusBadRequest, "invalid_body")
		return
	}

	var envelope models.STKCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Body.StkCallback == nil {
		h.Logger.Warn("WEBHOOK", "Callback rejected: missing Body.stkCallback")
		h.writeResult(w, http.StatusBadRequest, "invalid_body")
		return
	}

	key := envelope.Body.StkCallback.CheckoutRequestID
	h.Logger.LogPayment("CALLBACK", key, fmt.Sprintf("Received callback, result code %d", envelope.Body.StkCallback.ResultCode))

	if err := h.Queue.Publish(kafka.TopicPaymentCallbacks, key, payload); err != nil {
		// Still acknowledge: the gateway considers the callback delivered
		// and retelling it to retry only causes webhook storms.
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to enqueue callback %s: %v", key, err))
	}

	h.writeResult(w, http.StatusOK, "queued")
}

// OrderTransactions handles GET /api/orders/{orderId}/payments: the audit
// rows the gateway callbacks left behind for an order.
func (h *Handler) OrderTransactions(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	txs, err := h.Store.GetTransactionsByOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("PAYMENT", fmt.Sprintf("Failed to list transactions for order %s: %v", orderID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch transactions", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Transactions retrieved", txs))
}

func (h *Handler) writeResult(w http.ResponseWriter, status int, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"result": result})
}
