package qr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// Payload is the compact structure embedded in a printed ticket's QR code
// and presented back at the gate.
type Payload struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id"`
	Checksum string `json:"checksum"`
}

// Checksum binds a ticket to its order, event and owner. It is recomputable
// from its inputs at any time; the stored copy only exists to be embedded in
// the QR payload.
func Checksum(ticketUUID, eventID, userID, secret string) string {
	sum := sha256.Sum256([]byte(ticketUUID + eventID + userID + secret))
	return hex.EncodeToString(sum[:])
}

// Encode renders the payload to a PNG QR image.
func Encode(p Payload) ([]byte, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(string(content), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}

// Decode parses a scanned QR payload. An error means the payload is not in
// the expected format; field presence is validated by the verifier.
func Decode(data string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Payload{}, err
	}
	if p.TicketID == "" || p.EventID == "" || p.Checksum == "" {
		return Payload{}, fmt.Errorf("incomplete QR payload")
	}
	return p, nil
}
