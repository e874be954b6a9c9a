package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType is the queue discriminator attached to every task submission.
const MessageType = "tasks"

// ErrUnknownKind is returned when decoding an envelope whose kind is not a task variant.
var ErrUnknownKind = errors.New("tasks: unknown task kind")

// Routing is the metadata handed to the queue transport together with a task.
// UniqueID is the deduplication key the transport coalesces on.
type Routing struct {
	Type     string
	UniqueID string
}

// RoutingFor returns the routing metadata of t.
func RoutingFor(t Task) Routing {
	return Routing{Type: MessageType, UniqueID: t.UniqueID()}
}

// Envelope is the serialized form of a task on a queue.
//
// ID and CreatedAt identify one submission; they are never part of the unique id.
// RetryCount is incremented by the queue when processing fails and the task is retried.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Kind       Kind            `json:"kind"`
	UniqueID   string          `json:"unique_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
}

// payload holds the identifiers of every variant. Only the fields of the variant are set.
type payload struct {
	LibraryID    string       `json:"library_id,omitempty"`
	BookID       string       `json:"book_id,omitempty"`
	SeriesID     string       `json:"series_id,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// NewEnvelope wraps t for submission with a fresh message id.
func NewEnvelope(t Task, routing Routing) (Envelope, error) {
	var p payload
	switch v := t.(type) {
	case ScanLibrary:
		p.LibraryID = v.libraryID
	case AnalyzeBook:
		p.BookID = v.bookID
	case GenerateBookThumbnail:
		p.BookID = v.bookID
	case RefreshBookMetadata:
		p.BookID = v.bookID
		p.Capabilities = v.Capabilities()
	case RefreshSeriesMetadata:
		p.SeriesID = v.seriesID
	case AggregateSeriesMetadata:
		p.SeriesID = v.seriesID
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownKind, t)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ID:        uuid.New().String(),
		Type:      routing.Type,
		Kind:      t.Kind(),
		UniqueID:  routing.UniqueID,
		Payload:   data,
		CreatedAt: time.Now(),
	}, nil
}

// Decode rebuilds the task carried by e. The payload goes through the variant
// constructors, so a decoded task satisfies the same checks as a new one.
func Decode(e Envelope) (Task, error) {
	var p payload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
	}

	switch e.Kind {
	case KindScanLibrary:
		return NewScanLibrary(p.LibraryID)
	case KindAnalyzeBook:
		return NewAnalyzeBook(p.BookID)
	case KindGenerateBookThumbnail:
		return NewGenerateBookThumbnail(p.BookID)
	case KindRefreshBookMetadata:
		return NewRefreshBookMetadata(p.BookID, p.Capabilities...)
	case KindRefreshSeriesMetadata:
		return NewRefreshSeriesMetadata(p.SeriesID)
	case KindAggregateSeriesMetadata:
		return NewAggregateSeriesMetadata(p.SeriesID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
}
