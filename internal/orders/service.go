package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tikiti/internal/auth"
	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/mpesa"
	"tikiti/internal/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrForbidden     = errors.New("order belongs to another user")
	ErrNotPayable    = errors.New("order is not awaiting payment")
	ErrInvalidInput  = errors.New("invalid order request")
	ErrEventNotFound = errors.New("event not found")
)

// PaymentInitiator starts a push payment for an order.
type PaymentInitiator interface {
	InitiateSTKPush(ctx context.Context, order *models.Order, phoneNumber string) (*models.STKPushResponse, error)
}

// Store is the order persistence surface the service needs; *db.DB
// implements it.
type Store interface {
	GetEventByID(ctx context.Context, eventID string) (*models.Event, error)
	GetCategoryByID(ctx context.Context, categoryID string) (*models.TicketCategory, error)
	CreateOrderWithReservation(ctx context.Context, order *models.Order) error
	SetPaymentReference(ctx context.Context, orderID, reference string) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	GetAllOrders(ctx context.Context) ([]models.Order, error)
}

// Service owns the order lifecycle up to the point where the payment
// callback takes over.
type Service struct {
	DB    Store
	Mpesa PaymentInitiator
	Log   *logger.Logger
}

// CreateOrder reserves category capacity, persists a pending order and fires
// the payment prompt. A failed prompt leaves the order pending; the payment
// can be retried without re-reserving.
func (s *Service) CreateOrder(ctx context.Context, userID string, req models.OrderRequest) (*models.OrderResponse, error) {
	if req.EventID == "" || req.TicketCategoryID == "" || req.PhoneNumber == "" {
		return nil, ErrInvalidInput
	}

	event, err := s.DB.GetEventByID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}

	category, err := s.DB.GetCategoryByID(ctx, req.TicketCategoryID)
	if err != nil {
		return nil, err
	}
	if category == nil || category.EventID != req.EventID {
		return nil, fmt.Errorf("%w: category does not belong to event", ErrInvalidInput)
	}

	now := time.Now()
	order := &models.Order{
		ID:               uuid.NewString(),
		OrderNumber:      utils.GenerateOrderNumber(),
		UserID:           userID,
		EventID:          req.EventID,
		TicketCategoryID: category.ID,
		Amount:           category.Price,
		PhoneNumber:      mpesa.FormatPhoneNumber(req.PhoneNumber),
		PaymentStatus:    models.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.DB.CreateOrderWithReservation(ctx, order); err != nil {
		return nil, err
	}
	s.Log.LogOrder("CREATED", order.ID, fmt.Sprintf("Order %s for event %s, category %s", order.OrderNumber, event.Name, category.Name))

	resp := &models.OrderResponse{Order: order}
	push, err := s.Mpesa.InitiateSTKPush(ctx, order, order.PhoneNumber)
	if err != nil {
		// The order stands; the client retries the prompt via the pay
		// endpoint.
		s.Log.Error("ORDER", fmt.Sprintf("STK push failed for order %s: %v", order.OrderNumber, err))
		return resp, nil
	}

	if err := s.DB.SetPaymentReference(ctx, order.ID, push.CheckoutRequestID); err != nil {
		s.Log.Error("ORDER", fmt.Sprintf("Failed to save payment reference for order %s: %v", order.ID, err))
	} else {
		order.PaymentReference = push.CheckoutRequestID
	}

	resp.CheckoutID = push.CheckoutRequestID
	resp.CustomerPrompt = push.CustomerMessage
	return resp, nil
}

// RetryPayment re-fires the payment prompt for a pending order.
func (s *Service) RetryPayment(ctx context.Context, orderID, userID, role string) (*models.OrderResponse, error) {
	order, err := s.loadOwned(ctx, orderID, userID, role)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.PaymentPending {
		return nil, ErrNotPayable
	}

	push, err := s.Mpesa.InitiateSTKPush(ctx, order, order.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if err := s.DB.SetPaymentReference(ctx, order.ID, push.CheckoutRequestID); err != nil {
		s.Log.Error("ORDER", fmt.Sprintf("Failed to save payment reference for order %s: %v", order.ID, err))
	} else {
		order.PaymentReference = push.CheckoutRequestID
	}

	return &models.OrderResponse{
		Order:          order,
		CheckoutID:     push.CheckoutRequestID,
		CustomerPrompt: push.CustomerMessage,
	}, nil
}

// GetOrder returns a single order; customers only see their own.
func (s *Service) GetOrder(ctx context.Context, orderID, userID, role string) (*models.Order, error) {
	return s.loadOwned(ctx, orderID, userID, role)
}

// ListOrders returns the caller's orders, or every order for admins.
func (s *Service) ListOrders(ctx context.Context, userID, role string) ([]models.Order, error) {
	if role == auth.RoleAdmin {
		return s.DB.GetAllOrders(ctx)
	}
	return s.DB.GetOrdersByUser(ctx, userID)
}

func (s *Service) loadOwned(ctx context.Context, orderID, userID, role string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	if role != auth.RoleAdmin && order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}
