package issuer

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/tickets/db"
	"tikiti/internal/tickets/qr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-checksum-secret"

type fakeTicketStore struct {
	byOrder    map[string]*models.Ticket
	categories map[string]*models.TicketCategory
	events     map[string]*models.Event
	defaults   map[string]*models.TicketCategory
	created    int
	createErr  error
	raceWinner *models.Ticket
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{
		byOrder:    make(map[string]*models.Ticket),
		categories: make(map[string]*models.TicketCategory),
		events:     make(map[string]*models.Event),
		defaults:   make(map[string]*models.TicketCategory),
	}
}

func (f *fakeTicketStore) GetTicketByOrder(ctx context.Context, orderID string) (*models.Ticket, error) {
	return f.byOrder[orderID], nil
}

func (f *fakeTicketStore) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if f.createErr != nil {
		// Simulates losing the order_id unique constraint to a concurrent
		// insert that committed between the lookup and this call.
		if f.raceWinner != nil {
			f.byOrder[ticket.OrderID] = f.raceWinner
		}
		return f.createErr
	}
	f.created++
	f.byOrder[ticket.OrderID] = ticket
	return nil
}

func (f *fakeTicketStore) UpdateTicketIssuance(ctx context.Context, ticket *models.Ticket) error {
	f.byOrder[ticket.OrderID] = ticket
	return nil
}

func (f *fakeTicketStore) GetCategoryByID(ctx context.Context, categoryID string) (*models.TicketCategory, error) {
	return f.categories[categoryID], nil
}

func (f *fakeTicketStore) DefaultCategoryForEvent(ctx context.Context, eventID string) (*models.TicketCategory, error) {
	return f.defaults[eventID], nil
}

func (f *fakeTicketStore) GetEventByID(ctx context.Context, eventID string) (*models.Event, error) {
	return f.events[eventID], nil
}

type fakeRenderer struct {
	calls int
	err   error
}

func (f *fakeRenderer) Generate(ticket *models.Ticket, order *models.Order, event *models.Event, qrImage []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

type fakeArtifacts struct {
	objects map[string][]byte
}

func (f *fakeArtifacts) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return nil
}

func (f *fakeArtifacts) Get(ctx context.Context, key string) ([]byte, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

func (f *fakeArtifacts) PresignURL(ctx context.Context, key string) (string, error) {
	return "https://example.com/" + key, nil
}

type fakeNotifier struct {
	tickets []string
}

func (f *fakeNotifier) EnqueueTicketNotifications(ctx context.Context, ticketID string) error {
	f.tickets = append(f.tickets, ticketID)
	return nil
}

func setup() (*Issuer, *fakeTicketStore, *fakeRenderer, *fakeArtifacts, *fakeNotifier) {
	store := newFakeTicketStore()
	store.events["event1"] = &models.Event{ID: "event1", Name: "Nairobi Jazz Night", Venue: "Uhuru Gardens"}
	store.categories["cat-vip"] = &models.TicketCategory{ID: "cat-vip", EventID: "event1", Name: "VIP", Price: 5000}
	store.defaults["event1"] = &models.TicketCategory{ID: "cat-regular", EventID: "event1", Name: "Regular", Price: 1500}

	renderer := &fakeRenderer{}
	artifacts := &fakeArtifacts{}
	notifier := &fakeNotifier{}

	iss := &Issuer{
		Store:     store,
		Renderer:  renderer,
		Artifacts: artifacts,
		Notifier:  notifier,
		Secret:    testSecret,
		Log:       logger.NewLogger(),
	}
	return iss, store, renderer, artifacts, notifier
}

func paidOrder() *models.Order {
	return &models.Order{
		ID:               "order1",
		OrderNumber:      "ORD-ABCDEFGHJK",
		UserID:           "user1",
		EventID:          "event1",
		TicketCategoryID: "cat-vip",
		PaymentStatus:    models.PaymentPaid,
	}
}

func TestIssueCreatesTicket(t *testing.T) {
	iss, store, renderer, artifacts, notifier := setup()

	ticket, err := iss.Issue(context.Background(), paidOrder())
	require.NoError(t, err)

	assert.Equal(t, "order1", ticket.OrderID)
	assert.Equal(t, "cat-vip", ticket.TicketCategoryID)
	assert.NotEmpty(t, ticket.UUID)
	assert.Regexp(t, regexp.MustCompile(`^TKT-order1-`+ticket.ID+`-[A-Z2-9]{5}$`), ticket.QRCode)
	assert.Equal(t, qr.Checksum(ticket.UUID, "event1", "user1", testSecret), ticket.Checksum)

	assert.Equal(t, 1, store.created)
	assert.Equal(t, 1, renderer.calls)
	assert.Len(t, artifacts.objects, 1)
	assert.Equal(t, []string{ticket.ID}, notifier.tickets)
}

func TestIssueIsIdempotent(t *testing.T) {
	iss, store, _, _, notifier := setup()
	order := paidOrder()

	first, err := iss.Issue(context.Background(), order)
	require.NoError(t, err)

	second, err := iss.Issue(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.created)
	// No second round of notifications for a re-issue.
	assert.Len(t, notifier.tickets, 1)
}

func TestIssueFallsBackToDefaultCategory(t *testing.T) {
	iss, _, _, _, _ := setup()

	order := paidOrder()
	order.TicketCategoryID = ""
	ticket, err := iss.Issue(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "cat-regular", ticket.TicketCategoryID)

	order2 := paidOrder()
	order2.ID = "order2"
	order2.TicketCategoryID = "cat-deleted"
	ticket2, err := iss.Issue(context.Background(), order2)
	require.NoError(t, err)
	assert.Equal(t, "cat-regular", ticket2.TicketCategoryID)
}

func TestIssueFailsWithoutAnyCategory(t *testing.T) {
	iss, store, _, _, _ := setup()
	delete(store.defaults, "event1")

	order := paidOrder()
	order.TicketCategoryID = ""
	_, err := iss.Issue(context.Background(), order)
	require.Error(t, err)

	var issueErr *IssuanceError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, "category", issueErr.Stage)
	assert.Equal(t, 0, store.created)
}

func TestIssueReturnsWinnerWhenCreateLosesRace(t *testing.T) {
	iss, store, _, _, notifier := setup()

	winner := &models.Ticket{
		ID:       "winner-ticket",
		OrderID:  "order1",
		QRCode:   "TKT-order1-winner-ticket-ABCDE",
		Checksum: "settled",
	}
	store.createErr = db.ErrTicketExists
	store.raceWinner = winner

	ticket, err := iss.Issue(context.Background(), paidOrder())
	require.NoError(t, err)

	// The losing side adopts the committed ticket instead of double-issuing.
	assert.Equal(t, "winner-ticket", ticket.ID)
	assert.Equal(t, 0, store.created)
	assert.Empty(t, notifier.tickets)
}

func TestIssueSurfacesCreateFailure(t *testing.T) {
	iss, store, _, _, _ := setup()
	store.createErr = errors.New("connection reset")

	_, err := iss.Issue(context.Background(), paidOrder())
	require.Error(t, err)

	var issueErr *IssuanceError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, "create", issueErr.Stage)
}

func TestIssueSurvivesRenderFailure(t *testing.T) {
	iss, _, renderer, artifacts, notifier := setup()
	renderer.err = errors.New("font missing")

	ticket, err := iss.Issue(context.Background(), paidOrder())
	require.NoError(t, err)

	// The ticket stands even if the document could not be rendered.
	assert.NotEmpty(t, ticket.QRCode)
	assert.Empty(t, artifacts.objects)
	assert.Len(t, notifier.tickets, 1)
}
