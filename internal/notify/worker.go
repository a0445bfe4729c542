package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"tikiti/internal/config"
	"tikiti/internal/logger"
	"tikiti/internal/models"
	"tikiti/internal/storage"

	"github.com/wneessen/go-mail"
)

// Store is the delivery-side persistence the worker needs: the idempotency
// ledger and the ticket load.
type Store interface {
	Claim(ctx context.Context, ticketID, channel string) (bool, error)
	Release(ctx context.Context, ticketID, channel string) error
	GetTicketForDelivery(ctx context.Context, ticketID string) (*models.Ticket, error)
}

// Worker delivers ticket notifications consumed off the queue. Handlers are
// idempotent: each delivery claims a row in the notifications ledger first,
// so a redelivered task is a no-op.
type Worker struct {
	DB        Store
	Artifacts storage.ArtifactStore
	Email     config.EmailConfig
	SMS       config.SMSConfig
	HTTP      *http.Client
	Log       *logger.Logger
}

// HandleEmail processes one task off the email topic.
func (w *Worker) HandleEmail(key, value []byte) error {
	return w.handle(context.Background(), value, models.NotifyChannelEmail, w.sendEmail)
}

// HandleSMS processes one task off the SMS topic.
func (w *Worker) HandleSMS(key, value []byte) error {
	return w.handle(context.Background(), value, models.NotifyChannelSMS, w.sendSMS)
}

func (w *Worker) handle(ctx context.Context, value []byte, channel string, send func(ctx context.Context, ticket *models.Ticket) error) error {
	var task models.NotificationTask
	if err := json.Unmarshal(value, &task); err != nil {
		w.Log.Error("NOTIFY", fmt.Sprintf("Dropping malformed task: %v", err))
		return nil
	}

	ticket, err := w.DB.GetTicketForDelivery(ctx, task.TicketID)
	if err != nil {
		return err
	}
	if ticket == nil || ticket.Order == nil || ticket.Order.User == nil {
		w.Log.Error("NOTIFY", fmt.Sprintf("Dropping task for unknown ticket %s", task.TicketID))
		return nil
	}

	claimed, err := w.DB.Claim(ctx, task.TicketID, channel)
	if err != nil {
		return err
	}
	if !claimed {
		w.Log.Info("NOTIFY", fmt.Sprintf("Ticket %s already delivered on %s, skipping", task.TicketID, channel))
		return nil
	}

	if err := send(ctx, ticket); err != nil {
		// Give the claim back so a redelivery can try again.
		if rerr := w.DB.Release(ctx, task.TicketID, channel); rerr != nil {
			w.Log.Error("NOTIFY", fmt.Sprintf("Failed to release claim for ticket %s: %v", task.TicketID, rerr))
		}
		return err
	}

	w.Log.Info("NOTIFY", fmt.Sprintf("Delivered %s notification for ticket %s", channel, task.TicketID))
	return nil
}

func (w *Worker) sendEmail(ctx context.Context, ticket *models.Ticket) error {
	client, err := mail.NewClient(
		w.Email.SMTPHost,
		mail.WithPort(w.Email.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(w.Email.SMTPUsername),
		mail.WithPassword(w.Email.SMTPPassword),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize smtp client: %w", err)
	}

	user := ticket.Order.User
	event := ticket.Order.Event

	msg := mail.NewMsg()
	if err := msg.From(w.Email.From); err != nil {
		return err
	}
	if err := msg.To(user.Email); err != nil {
		return err
	}
	msg.Subject(fmt.Sprintf("Your ticket for %s", eventName(event)))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Hello %s,\n\nYour payment for order %s is confirmed.\nTicket code: %s\n\nPresent the attached ticket at the gate.\n",
		user.Name, ticket.Order.OrderNumber, ticket.QRCode))

	pdf, err := w.Artifacts.Get(ctx, storage.TicketArtifactKey(ticket.QRCode))
	if err != nil {
		w.Log.Warn("NOTIFY", fmt.Sprintf("Ticket document missing for %s, sending without attachment: %v", ticket.ID, err))
	} else if err := msg.AttachReader("ticket.pdf", bytes.NewReader(pdf)); err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send ticket email: %w", err)
	}
	return nil
}

func (w *Worker) sendSMS(ctx context.Context, ticket *models.Ticket) error {
	link, err := w.Artifacts.PresignURL(ctx, storage.TicketArtifactKey(ticket.QRCode))
	if err != nil {
		w.Log.Warn("NOTIFY", fmt.Sprintf("No download link for ticket %s: %v", ticket.ID, err))
		link = ""
	}

	message := fmt.Sprintf("Payment confirmed for order %s. Ticket code %s.", ticket.Order.OrderNumber, ticket.QRCode)
	if link != "" {
		message += " Download: " + link
	}

	form := url.Values{}
	form.Set("username", w.SMS.Username)
	form.Set("to", ticket.Order.PhoneNumber)
	form.Set("message", message)
	form.Set("from", w.SMS.From)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.SMS.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", w.SMS.APIKey)

	resp, err := w.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ticket SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("SMS gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func eventName(event *models.Event) string {
	if event == nil {
		return "your event"
	}
	return event.Name
}
