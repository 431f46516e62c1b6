// Package anchor forwards committed state transitions to an external
// registry. Delivery is asynchronous and best effort: a failing registry is
// logged and counted, never propagated back to the committed document.
package anchor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"didledger/internal/did/models"
)

// Event describes one committed transition.
type Event struct {
	ID              string               `json:"id"`
	DID             string               `json:"did"`
	Kind            models.OperationKind `json:"kind"`
	DocumentHash    string               `json:"document_hash"`
	Updated         int64                `json:"updated"`
	PublicKeyBase58 string               `json:"public_key_base58"`
	Document        *models.Document     `json:"document"`

	attempts int
}

// NewEvent snapshots a committed document into an event.
func NewEvent(kind models.OperationKind, doc *models.Document) Event {
	ev := Event{
		ID:           uuid.NewString(),
		DID:          doc.ID,
		Kind:         kind,
		DocumentHash: models.DocumentHash(doc),
		Updated:      doc.Updated,
		Document:     doc.Clone(),
	}
	if len(doc.PublicKeys) > 0 {
		ev.PublicKeyBase58 = doc.PublicKeys[0].PublicKeyBase58
	}
	return ev
}

// Gateway records events in an external registry.
type Gateway interface {
	Anchor(ctx context.Context, ev Event) error
	Name() string
}

// LogGateway writes events to the log. It is the default when no registry
// is configured.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a gateway that logs through logger (slog.Default when nil).
func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Name() string { return "log" }

func (g *LogGateway) Anchor(ctx context.Context, ev Event) error {
	g.logger.InfoContext(ctx, "anchor event",
		"event_id", ev.ID,
		"did", ev.DID,
		"kind", string(ev.Kind),
		"document_hash", ev.DocumentHash,
		"updated", ev.Updated,
	)
	return nil
}
