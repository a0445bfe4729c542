package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"tikiti/internal/auth"
	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/mpesa"
	"tikiti/internal/orders"
	"tikiti/internal/orders/db"
	"tikiti/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *orders.Service
	Logger  *logger.Logger
}

func NewHandler(service *orders.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// CreateOrder handles POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	resp, err := h.Service.CreateOrder(r.Context(), userID, req)
	switch {
	case errors.Is(err, orders.ErrInvalidInput):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid order request", err.Error()))
	case errors.Is(err, orders.ErrEventNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", req.EventID))
	case errors.Is(err, db.ErrSoldOut):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Ticket category sold out", req.TicketCategoryID))
	case err != nil:
		h.Logger.Error("ORDER", fmt.Sprintf("Failed to create order: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to create order", err.Error()))
	default:
		message := "Order created, payment prompt sent"
		if resp.CheckoutID == "" {
			message = "Order created, payment prompt failed, retry via pay endpoint"
		}
		utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse(message, resp))
	}
}

// Pay handles POST /api/orders/{orderId}/pay, re-firing the payment prompt
// for a pending order.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	userID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())

	resp, err := h.Service.RetryPayment(r.Context(), orderID, userID, role)
	var gwErr *mpesa.GatewayError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", orderID))
	case errors.Is(err, orders.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another user"))
	case errors.Is(err, orders.ErrNotPayable):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse("Order is not awaiting payment", orderID))
	case errors.As(err, &gwErr):
		utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse("Payment gateway unavailable, retry later", gwErr.Message))
	case err != nil:
		h.Logger.Error("ORDER", fmt.Sprintf("Failed to retry payment for %s: %v", orderID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to initiate payment", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment prompt sent", resp))
	}
}

// GetOrder handles GET /api/orders/{orderId}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	userID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())

	order, err := h.Service.GetOrder(r.Context(), orderID, userID, role)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", orderID))
	case errors.Is(err, orders.ErrForbidden):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "order belongs to another user"))
	case err != nil:
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch order", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order retrieved", order))
	}
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())

	list, err := h.Service.ListOrders(r.Context(), userID, role)
	if err != nil {
		h.Logger.Error("ORDER", fmt.Sprintf("Failed to list orders: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch orders", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Orders retrieved", list))
}
