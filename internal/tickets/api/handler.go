package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"tikiti/internal/auth"
	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/tickets/verifier"
	"tikiti/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Lister reads a user's issued tickets.
type Lister interface {
	GetTicketsByUser(ctx context.Context, userID string) ([]models.Ticket, error)
}

type Handler struct {
	Verifier *verifier.Verifier
	Tickets  Lister
	Logger   *logger.Logger
}

func NewHandler(v *verifier.Verifier, tickets Lister, log *logger.Logger) *Handler {
	return &Handler{Verifier: v, Tickets: tickets, Logger: log}
}

// MyTickets handles GET /api/tickets.
func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing user identity"))
		return
	}

	tickets, err := h.Tickets.GetTicketsByUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("TICKET", fmt.Sprintf("Failed to list tickets for user %s: %v", userID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to fetch tickets", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", tickets))
}

type verifyRequest struct {
	QRData string `json:"qr_data"`
}

// Verify handles POST /api/tickets/verify. Validation is read-only; check-in
// is a separate call.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QRData == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "qr_data is required"))
		return
	}

	result, err := h.Verifier.Validate(r.Context(), req.QRData)
	if err != nil {
		h.Logger.Error("TICKET", fmt.Sprintf("Verification failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Verification failed", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Verification complete", result))
}

// VerifyByCode handles GET /api/tickets/verify/{code}, the legacy gate
// endpoint keyed on the scannable code instead of the QR payload.
func (h *Handler) VerifyByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	ticket, err := h.Verifier.Scan(r.Context(), code)
	if errors.Is(err, verifier.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, map[string]interface{}{"status": "not_found"})
		return
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Verification failed", err.Error()))
		return
	}

	status := "valid"
	if ticket.CheckedIn || ticket.Order == nil || ticket.Order.PaymentStatus != models.PaymentPaid {
		status = "invalid"
	}

	resp := map[string]interface{}{
		"status": status,
		"used":   ticket.CheckedIn,
	}
	if ticket.Order != nil && ticket.Order.Event != nil {
		resp["event"] = ticket.Order.Event.Name
	}
	if ticket.Category != nil {
		resp["category"] = ticket.Category.Name
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

type scanRequest struct {
	QRCode string `json:"qr_code"`
}

// Scan handles POST /api/tickets/scan: a read-only lookup by scannable code.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QRCode == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "qr_code is required"))
		return
	}

	ticket, err := h.Verifier.Scan(r.Context(), req.QRCode)
	if errors.Is(err, verifier.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", req.QRCode))
		return
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Scan failed", err.Error()))
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket found", ticket))
}

type checkInRequest struct {
	QRCode  string `json:"qr_code"`
	AgentID string `json:"agent_id"`
}

// CheckIn handles POST /api/tickets/check-in.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QRCode == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "qr_code is required"))
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = auth.UserIDFromContext(r.Context())
	}

	ticket, err := h.Verifier.CheckIn(r.Context(), req.QRCode, agentID)
	switch {
	case errors.Is(err, verifier.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", req.QRCode))
	case errors.Is(err, verifier.ErrAlreadyCheckedIn):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Ticket already checked in", req.QRCode))
	case err != nil:
		h.Logger.Error("TICKET", fmt.Sprintf("Check-in failed for %s: %v", req.QRCode, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Check-in failed", err.Error()))
	default:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket checked in", ticket))
	}
}
