package storage

import "context"

// ArtifactStore is durable object storage for rendered ticket documents,
// addressed by object key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignURL returns a time-limited download link for the object.
	PresignURL(ctx context.Context, key string) (string, error)
}

// TicketArtifactKey is the canonical object key for a ticket's rendered PDF.
func TicketArtifactKey(code string) string {
	return "tickets/ticket-" + code + ".pdf"
}
