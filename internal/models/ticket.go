package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID               string     `bun:"id,pk" json:"id"`
	OrderID          string     `bun:"order_id,notnull,unique" json:"order_id"`
	TicketCategoryID string     `bun:"ticket_category_id,notnull" json:"ticket_category_id"`
	UUID             string     `bun:"uuid,unique,notnull" json:"uuid"`
	QRCode           string     `bun:"qr_code,unique,notnull" json:"qr_code"`
	Checksum         string     `bun:"checksum,nullzero" json:"checksum,omitempty"`
	CheckedIn        bool       `bun:"checked_in,notnull,default:false" json:"checked_in"`
	CheckedInAt      *time.Time `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`
	IssuedAt         time.Time  `bun:"issued_at,notnull" json:"issued_at"`

	Order    *Order          `bun:"rel:belongs-to,join:order_id=id" json:"order,omitempty"`
	Category *TicketCategory `bun:"rel:belongs-to,join:ticket_category_id=id" json:"category,omitempty"`
}

type TicketCategory struct {
	bun.BaseModel `bun:"table:ticket_categories"`

	ID       string  `bun:"id,pk" json:"id"`
	EventID  string  `bun:"event_id,notnull" json:"event_id"`
	Name     string  `bun:"name,notnull" json:"name"`
	Price    float64 `bun:"price,notnull" json:"price"`
	Quantity int     `bun:"quantity,notnull" json:"quantity"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}

// CheckIn is the gate-side audit trail: one row per successful check-in.
type CheckIn struct {
	bun.BaseModel `bun:"table:check_ins"`

	ID        string    `bun:"id,pk" json:"id"`
	TicketID  string    `bun:"ticket_id,notnull" json:"ticket_id"`
	AgentID   string    `bun:"agent_id,notnull" json:"agent_id"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Notification is the idempotency ledger for ticket notification delivery.
// The (ticket_id, channel) pair is unique; a second claim for the same pair
// means the task was already delivered.
type Notification struct {
	bun.BaseModel `bun:"table:notifications"`

	ID        string    `bun:"id,pk" json:"id"`
	TicketID  string    `bun:"ticket_id,notnull,unique:uq_notifications_ticket_channel" json:"ticket_id"`
	Channel   string    `bun:"channel,notnull,unique:uq_notifications_ticket_channel" json:"channel"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

const (
	NotifyChannelEmail = "email"
	NotifyChannelSMS   = "sms"
)

// NotificationTask is the queued work item referencing a ticket.
type NotificationTask struct {
	TicketID string `json:"ticket_id"`
	Channel  string `json:"channel"`
}
