package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID               string        `bun:"id,pk" json:"id"`
	OrderNumber      string        `bun:"order_number,unique,notnull" json:"order_number"`
	UserID           string        `bun:"user_id,notnull" json:"user_id"`
	EventID          string        `bun:"event_id,notnull" json:"event_id"`
	TicketCategoryID string        `bun:"ticket_category_id,nullzero" json:"ticket_category_id"`
	Amount           float64       `bun:"amount,notnull" json:"amount"`
	PhoneNumber      string        `bun:"phone_number,notnull" json:"phone_number"`
	PaymentStatus    PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	PaymentReference string        `bun:"payment_reference,nullzero" json:"payment_reference,omitempty"`
	CreatedAt        time.Time     `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time     `bun:"updated_at,nullzero" json:"updated_at,omitempty"`

	Event    *Event          `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
	User     *User           `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	Category *TicketCategory `bun:"rel:belongs-to,join:ticket_category_id=id" json:"category,omitempty"`
	Tickets  []Ticket        `bun:"rel:has-many,join:id=order_id" json:"tickets,omitempty"`
}

type OrderRequest struct {
	EventID          string `json:"event_id"`
	TicketCategoryID string `json:"ticket_category_id"`
	PhoneNumber      string `json:"phone_number"`
}

type OrderResponse struct {
	Order          *Order `json:"order"`
	CheckoutID     string `json:"checkout_request_id,omitempty"`
	CustomerPrompt string `json:"customer_message,omitempty"`
}
