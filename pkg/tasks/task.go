// Package tasks defines the closed set of background tasks handled by the library task queue.
// A task carries only the identifiers needed to locate its subject when it is executed,
// never the entity itself, so a queued task can not go stale.
//
// Every task derives a deterministic unique id from its kind, its subject and any parameter
// that changes what the task does. The queue transport uses that id as the deduplication key.
package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a task variant. It is used in unique ids, on the wire and as a metrics label.
type Kind string

const (
	KindScanLibrary             Kind = "scan_library"
	KindAnalyzeBook             Kind = "analyze_book"
	KindGenerateBookThumbnail   Kind = "generate_book_thumbnail"
	KindRefreshBookMetadata     Kind = "refresh_book_metadata"
	KindRefreshSeriesMetadata   Kind = "refresh_series_metadata"
	KindAggregateSeriesMetadata Kind = "aggregate_series_metadata"
)

// Kinds lists every task kind.
func Kinds() []Kind {
	return []Kind{
		KindScanLibrary,
		KindAnalyzeBook,
		KindGenerateBookThumbnail,
		KindRefreshBookMetadata,
		KindRefreshSeriesMetadata,
		KindAggregateSeriesMetadata,
	}
}

// ErrMissingSubject is returned when a task is constructed without the identifier of its subject.
var ErrMissingSubject = errors.New("tasks: missing subject id")

// Task is a unit of deferred work. The interface is sealed: only the variants of this
// package implement it.
//
// Task values are immutable. Two tasks describing the same work return the same UniqueID.
type Task interface {
	// Kind returns the variant tag.
	Kind() Kind
	// UniqueID returns the deduplication key of the task.
	UniqueID() string
	// String describes the task for logs.
	String() string

	sealed()
}

// ScanLibrary re-enumerates the content of a library.
type ScanLibrary struct {
	libraryID string
}

// NewScanLibrary returns a ScanLibrary task for libraryID.
func NewScanLibrary(libraryID string) (ScanLibrary, error) {
	if err := requireSubject(KindScanLibrary, libraryID); err != nil {
		return ScanLibrary{}, err
	}
	return ScanLibrary{libraryID: libraryID}, nil
}

func (t ScanLibrary) LibraryID() string { return t.libraryID }
func (t ScanLibrary) Kind() Kind        { return KindScanLibrary }
func (t ScanLibrary) UniqueID() string  { return uniqueID(KindScanLibrary, t.libraryID) }
func (t ScanLibrary) String() string    { return fmt.Sprintf("ScanLibrary(libraryId=%s)", t.libraryID) }
func (ScanLibrary) sealed()             {}

// AnalyzeBook extracts or refreshes the technical media information of a book.
type AnalyzeBook struct {
	bookID string
}

// NewAnalyzeBook returns an AnalyzeBook task for bookID.
func NewAnalyzeBook(bookID string) (AnalyzeBook, error) {
	if err := requireSubject(KindAnalyzeBook, bookID); err != nil {
		return AnalyzeBook{}, err
	}
	return AnalyzeBook{bookID: bookID}, nil
}

func (t AnalyzeBook) BookID() string   { return t.bookID }
func (t AnalyzeBook) Kind() Kind       { return KindAnalyzeBook }
func (t AnalyzeBook) UniqueID() string { return uniqueID(KindAnalyzeBook, t.bookID) }
func (t AnalyzeBook) String() string   { return fmt.Sprintf("AnalyzeBook(bookId=%s)", t.bookID) }
func (AnalyzeBook) sealed()            {}

// GenerateBookThumbnail rebuilds the cover thumbnail of a book.
type GenerateBookThumbnail struct {
	bookID string
}

// NewGenerateBookThumbnail returns a GenerateBookThumbnail task for bookID.
func NewGenerateBookThumbnail(bookID string) (GenerateBookThumbnail, error) {
	if err := requireSubject(KindGenerateBookThumbnail, bookID); err != nil {
		return GenerateBookThumbnail{}, err
	}
	return GenerateBookThumbnail{bookID: bookID}, nil
}

func (t GenerateBookThumbnail) BookID() string   { return t.bookID }
func (t GenerateBookThumbnail) Kind() Kind       { return KindGenerateBookThumbnail }
func (t GenerateBookThumbnail) UniqueID() string { return uniqueID(KindGenerateBookThumbnail, t.bookID) }
func (t GenerateBookThumbnail) String() string {
	return fmt.Sprintf("GenerateBookThumbnail(bookId=%s)", t.bookID)
}
func (GenerateBookThumbnail) sealed() {}

// RefreshBookMetadata re-derives the metadata of a book, limited to a set of capabilities.
type RefreshBookMetadata struct {
	bookID       string
	capabilities []Capability
}

// NewRefreshBookMetadata returns a RefreshBookMetadata task for bookID.
// An empty capability list selects every known capability. Capabilities are
// deduplicated and sorted, so the order given by the caller never matters.
func NewRefreshBookMetadata(bookID string, capabilities ...Capability) (RefreshBookMetadata, error) {
	if err := requireSubject(KindRefreshBookMetadata, bookID); err != nil {
		return RefreshBookMetadata{}, err
	}
	if len(capabilities) == 0 {
		capabilities = AllCapabilities()
	}
	normalized, err := NormalizeCapabilities(capabilities)
	if err != nil {
		return RefreshBookMetadata{}, err
	}
	return RefreshBookMetadata{bookID: bookID, capabilities: normalized}, nil
}

func (t RefreshBookMetadata) BookID() string { return t.bookID }

// Capabilities returns a copy of the sorted capability set.
func (t RefreshBookMetadata) Capabilities() []Capability {
	return append([]Capability(nil), t.capabilities...)
}

func (t RefreshBookMetadata) Kind() Kind { return KindRefreshBookMetadata }

func (t RefreshBookMetadata) UniqueID() string {
	return uniqueID(KindRefreshBookMetadata, t.bookID, encodeCapabilities(t.capabilities))
}

func (t RefreshBookMetadata) String() string {
	return fmt.Sprintf("RefreshBookMetadata(bookId=%s, capabilities=[%s])", t.bookID, encodeCapabilities(t.capabilities))
}

func (RefreshBookMetadata) sealed() {}

// RefreshSeriesMetadata re-derives the metadata of a series.
type RefreshSeriesMetadata struct {
	seriesID string
}

// NewRefreshSeriesMetadata returns a RefreshSeriesMetadata task for seriesID.
func NewRefreshSeriesMetadata(seriesID string) (RefreshSeriesMetadata, error) {
	if err := requireSubject(KindRefreshSeriesMetadata, seriesID); err != nil {
		return RefreshSeriesMetadata{}, err
	}
	return RefreshSeriesMetadata{seriesID: seriesID}, nil
}

func (t RefreshSeriesMetadata) SeriesID() string { return t.seriesID }
func (t RefreshSeriesMetadata) Kind() Kind       { return KindRefreshSeriesMetadata }
func (t RefreshSeriesMetadata) UniqueID() string { return uniqueID(KindRefreshSeriesMetadata, t.seriesID) }
func (t RefreshSeriesMetadata) String() string {
	return fmt.Sprintf("RefreshSeriesMetadata(seriesId=%s)", t.seriesID)
}
func (RefreshSeriesMetadata) sealed() {}

// AggregateSeriesMetadata recomputes the metadata of a series from the metadata of its books.
type AggregateSeriesMetadata struct {
	seriesID string
}

// NewAggregateSeriesMetadata returns an AggregateSeriesMetadata task for seriesID.
func NewAggregateSeriesMetadata(seriesID string) (AggregateSeriesMetadata, error) {
	if err := requireSubject(KindAggregateSeriesMetadata, seriesID); err != nil {
		return AggregateSeriesMetadata{}, err
	}
	return AggregateSeriesMetadata{seriesID: seriesID}, nil
}

func (t AggregateSeriesMetadata) SeriesID() string { return t.seriesID }
func (t AggregateSeriesMetadata) Kind() Kind       { return KindAggregateSeriesMetadata }
func (t AggregateSeriesMetadata) UniqueID() string {
	return uniqueID(KindAggregateSeriesMetadata, t.seriesID)
}
func (t AggregateSeriesMetadata) String() string {
	return fmt.Sprintf("AggregateSeriesMetadata(seriesId=%s)", t.seriesID)
}
func (AggregateSeriesMetadata) sealed() {}

func requireSubject(kind Kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w for %s", ErrMissingSubject, kind)
	}
	return nil
}

// uniqueID encodes "<kind>:<subject>[:<params>...]".
func uniqueID(kind Kind, subject string, params ...string) string {
	parts := make([]string, 0, 2+len(params))
	parts = append(parts, string(kind), subject)
	parts = append(parts, params...)
	return strings.Join(parts, ":")
}
