package template

import (
	"bytes"
	"fmt"
	"image/png"

	"tikiti/internal/models"

	"github.com/signintech/gopdf"
)

type TicketPDFGenerator struct {
	FontPath string
}

func NewTicketPDFGenerator() *TicketPDFGenerator {
	return &TicketPDFGenerator{FontPath: "./fonts/DejaVuSans.ttf"}
}

// Generate renders the printable ticket: event details plus the QR image.
func (g *TicketPDFGenerator) Generate(ticket *models.Ticket, order *models.Order, event *models.Event, qrImage []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("dejavu", g.FontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("dejavu", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	pdf.SetX(40)
	pdf.SetY(30)
	pdf.Cell(nil, "EVENT TICKET")

	pdf.SetY(60)
	addTicketInfo(pdf, ticket, order, event)

	if len(qrImage) > 0 {
		pdf.SetY(pdf.GetY() + 20)
		addQRCode(pdf, qrImage)
	}

	pdf.SetY(280)
	pdf.SetX(50)
	pdf.Cell(nil, "Present this ticket at the gate. Valid for one entry.")

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addTicketInfo(pdf *gopdf.GoPdf, ticket *models.Ticket, order *models.Order, event *models.Event) {
	info := []struct {
		Label string
		Value string
	}{
		{"Event", event.Name},
		{"Venue", event.Venue},
		{"Date", event.StartsAt.Format("2006-01-02 15:04")},
		{"Order", order.OrderNumber},
		{"Ticket Code", ticket.QRCode},
		{"Issued", ticket.IssuedAt.Format("2006-01-02 15:04")},
	}

	for _, item := range info {
		pdf.SetX(40)
		pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(20)
	}
}

func addQRCode(pdf *gopdf.GoPdf, qrImage []byte) {
	img, err := png.Decode(bytes.NewReader(qrImage))
	if err != nil {
		pdf.Cell(nil, "Failed to load QR code")
		return
	}

	rect := &gopdf.Rect{W: 120, H: 120}
	if err := pdf.ImageFrom(img, 100, pdf.GetY(), rect); err != nil {
		pdf.Cell(nil, "Failed to draw QR code")
	}
}
