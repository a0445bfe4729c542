package orders

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"tikiti/internal/auth"
	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/mpesa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSoldOut = errors.New("ticket category sold out")

type fakeOrderStore struct {
	events     map[string]*models.Event
	categories map[string]*models.TicketCategory
	orders     map[string]*models.Order
	remaining  int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		events: map[string]*models.Event{
			"event1": {ID: "event1", Name: "Nairobi Jazz Night"},
		},
		categories: map[string]*models.TicketCategory{
			"cat-vip": {ID: "cat-vip", EventID: "event1", Name: "VIP", Price: 5000, Quantity: 50},
		},
		orders:    make(map[string]*models.Order),
		remaining: 50,
	}
}

func (f *fakeOrderStore) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	return f.events[eventID], nil
}

func (f *fakeOrderStore) GetCategoryByID(ctx context.Context, categoryID string) (*models.TicketCategory, error) {
	return f.categories[categoryID], nil
}

func (f *fakeOrderStore) CreateOrderWithReservation(ctx context.Context, order *models.Order) error {
	if f.remaining <= 0 {
		return errSoldOut
	}
	f.remaining--
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderStore) SetPaymentReference(ctx context.Context, orderID, reference string) error {
	order, ok := f.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	order.PaymentReference = reference
	return nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	return f.orders[orderID], nil
}

func (f *fakeOrderStore) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	for _, order := range f.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	for _, order := range f.orders {
		out = append(out, *order)
	}
	return out, nil
}

type fakeMpesa struct {
	pushes int
	err    error
}

func (f *fakeMpesa) InitiateSTKPush(ctx context.Context, order *models.Order, phoneNumber string) (*models.STKPushResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pushes++
	return &models.STKPushResponse{
		CheckoutRequestID: "ws_CO_123",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func setup() (*Service, *fakeOrderStore, *fakeMpesa) {
	store := newFakeOrderStore()
	gateway := &fakeMpesa{}
	return &Service{DB: store, Mpesa: gateway, Log: logger.NewLogger()}, store, gateway
}

func validRequest() models.OrderRequest {
	return models.OrderRequest{
		EventID:          "event1",
		TicketCategoryID: "cat-vip",
		PhoneNumber:      "0712345678",
	}
}

func TestCreateOrder(t *testing.T) {
	service, store, gateway := setup()

	resp, err := service.CreateOrder(context.Background(), "user1", validRequest())
	require.NoError(t, err)

	order := resp.Order
	assert.Regexp(t, regexp.MustCompile(`^ORD-[A-Z2-9]{10}$`), order.OrderNumber)
	assert.Equal(t, "user1", order.UserID)
	assert.Equal(t, 5000.0, order.Amount)
	assert.Equal(t, "254712345678", order.PhoneNumber)
	assert.Equal(t, models.PaymentPending, order.PaymentStatus)

	assert.Equal(t, 1, gateway.pushes)
	assert.Equal(t, "ws_CO_123", resp.CheckoutID)
	assert.Equal(t, "ws_CO_123", store.orders[order.ID].PaymentReference)
}

func TestCreateOrderValidation(t *testing.T) {
	service, _, _ := setup()

	_, err := service.CreateOrder(context.Background(), "user1", models.OrderRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	req := validRequest()
	req.EventID = "no-such-event"
	_, err = service.CreateOrder(context.Background(), "user1", req)
	assert.ErrorIs(t, err, ErrEventNotFound)

	req = validRequest()
	req.TicketCategoryID = "no-such-category"
	_, err = service.CreateOrder(context.Background(), "user1", req)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateOrderSoldOut(t *testing.T) {
	service, store, gateway := setup()
	store.remaining = 0

	_, err := service.CreateOrder(context.Background(), "user1", validRequest())
	assert.ErrorIs(t, err, errSoldOut)
	assert.Equal(t, 0, gateway.pushes)
}

func TestCreateOrderSurvivesPushFailure(t *testing.T) {
	service, store, gateway := setup()
	gateway.err = &mpesa.GatewayError{StatusCode: 503, Message: "Spike arrest violation"}

	resp, err := service.CreateOrder(context.Background(), "user1", validRequest())
	require.NoError(t, err)

	// The order stands; the prompt is retried via RetryPayment.
	assert.Empty(t, resp.CheckoutID)
	assert.Equal(t, models.PaymentPending, resp.Order.PaymentStatus)
	assert.Len(t, store.orders, 1)
}

func TestRetryPayment(t *testing.T) {
	service, store, gateway := setup()
	gateway.err = &mpesa.GatewayError{Message: "down"}
	resp, err := service.CreateOrder(context.Background(), "user1", validRequest())
	require.NoError(t, err)
	orderID := resp.Order.ID

	gateway.err = nil
	retried, err := service.RetryPayment(context.Background(), orderID, "user1", auth.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", retried.CheckoutID)
	assert.Equal(t, "ws_CO_123", store.orders[orderID].PaymentReference)
}

func TestRetryPaymentGuards(t *testing.T) {
	service, store, _ := setup()
	resp, err := service.CreateOrder(context.Background(), "user1", validRequest())
	require.NoError(t, err)
	orderID := resp.Order.ID

	_, err = service.RetryPayment(context.Background(), "missing", "user1", auth.RoleCustomer)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = service.RetryPayment(context.Background(), orderID, "user2", auth.RoleCustomer)
	assert.ErrorIs(t, err, ErrForbidden)

	store.orders[orderID].PaymentStatus = models.PaymentPaid
	_, err = service.RetryPayment(context.Background(), orderID, "user1", auth.RoleCustomer)
	assert.ErrorIs(t, err, ErrNotPayable)
}

func TestGetOrderOwnership(t *testing.T) {
	service, _, _ := setup()
	resp, err := service.CreateOrder(context.Background(), "user1", validRequest())
	require.NoError(t, err)
	orderID := resp.Order.ID

	order, err := service.GetOrder(context.Background(), orderID, "user1", auth.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, orderID, order.ID)

	_, err = service.GetOrder(context.Background(), orderID, "user2", auth.RoleCustomer)
	assert.ErrorIs(t, err, ErrForbidden)

	// Admins see everything.
	_, err = service.GetOrder(context.Background(), orderID, "someone-else", auth.RoleAdmin)
	assert.NoError(t, err)
}

func TestListOrders(t *testing.T) {
	service, _, _ := setup()
	_, err := service.CreateOrder(context.Background(), "user1", validRequest())
	require.NoError(t, err)
	_, err = service.CreateOrder(context.Background(), "user2", validRequest())
	require.NoError(t, err)

	mine, err := service.ListOrders(context.Background(), "user1", auth.RoleCustomer)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := service.ListOrders(context.Background(), "admin", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
