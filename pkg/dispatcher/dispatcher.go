// Package dispatcher turns library events into tasks submitted to the task queue.
//
// Operations either submit a single task or fan out over a working set read from a
// data source. Each task is handed to the Submitter with its routing metadata; the
// dispatcher never waits for execution and never deduplicates itself, the transport
// coalesces on the unique id.
//
// A Dispatcher holds no mutable state and is safe for concurrent use.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/guido-cesarano/librarytasks/pkg/domain"
	"github.com/guido-cesarano/librarytasks/pkg/logger"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// LibrarySource lists the libraries known to the system.
type LibrarySource interface {
	ListLibraryIDs(ctx context.Context) ([]string, error)
}

// BookSource finds books by library and media status.
type BookSource interface {
	FindBookIDs(ctx context.Context, libraryIDs []string, statuses []domain.MediaStatus) ([]string, error)
}

// Submitter is the queue transport boundary.
type Submitter interface {
	Submit(ctx context.Context, task tasks.Task, routing tasks.Routing) error
}

// Dispatcher submits library tasks.
type Dispatcher struct {
	libraries LibrarySource
	books     BookSource
	submitter Submitter
	observer  Observer
	log       zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver replaces the default logging observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o == nil {
			o = NopObserver{}
		}
		d.observer = o
	}
}

// WithLogger sets the logger used to report submission failures.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// New creates a Dispatcher.
func New(libraries LibrarySource, books BookSource, submitter Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		libraries: libraries,
		books:     books,
		submitter: submitter,
		log:       logger.Component("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.observer == nil {
		d.observer = NewLogObserver(d.log)
	}
	return d
}

// ScanLibraries submits a ScanLibrary task for every library.
// A failure to list the libraries aborts before anything is submitted. A failed
// submission does not stop the others; all failures are returned together.
func (d *Dispatcher) ScanLibraries(ctx context.Context) error {
	ids, err := d.libraries.ListLibraryIDs(ctx)
	if err != nil {
		return fmt.Errorf("list libraries: %w", err)
	}
	return d.fanOut(ctx, ids, func(id string) (tasks.Task, error) {
		return tasks.NewScanLibrary(id)
	})
}

// ScanLibrary submits a ScanLibrary task.
func (d *Dispatcher) ScanLibrary(ctx context.Context, libraryID string) error {
	task, err := tasks.NewScanLibrary(libraryID)
	if err != nil {
		return err
	}
	return d.submit(ctx, task)
}

// AnalyzeUnknownAndOutdatedBooks submits an AnalyzeBook task for every book of the
// library whose media status is UNKNOWN or OUTDATED.
func (d *Dispatcher) AnalyzeUnknownAndOutdatedBooks(ctx context.Context, libraryID string) error {
	ids, err := d.books.FindBookIDs(ctx, []string{libraryID}, domain.StaleMediaStatuses())
	if err != nil {
		return fmt.Errorf("find books to analyze in library %s: %w", libraryID, err)
	}
	return d.fanOut(ctx, ids, func(id string) (tasks.Task, error) {
		return tasks.NewAnalyzeBook(id)
	})
}

// AnalyzeBook submits an AnalyzeBook task.
func (d *Dispatcher) AnalyzeBook(ctx context.Context, bookID string) error {
	task, err := tasks.NewAnalyzeBook(bookID)
	if err != nil {
		return err
	}
	return d.submit(ctx, task)
}

// GenerateBookThumbnail submits a GenerateBookThumbnail task.
func (d *Dispatcher) GenerateBookThumbnail(ctx context.Context, bookID string) error {
	task, err := tasks.NewGenerateBookThumbnail(bookID)
	if err != nil {
		return err
	}
	return d.submit(ctx, task)
}

// RefreshBookMetadata submits a RefreshBookMetadata task. Without capabilities,
// every known capability is refreshed.
func (d *Dispatcher) RefreshBookMetadata(ctx context.Context, bookID string, capabilities ...tasks.Capability) error {
	if len(capabilities) == 0 {
		capabilities = tasks.AllCapabilities()
	}
	task, err := tasks.NewRefreshBookMetadata(bookID, capabilities...)
	if err != nil {
		return err
	}
	return d.submit(ctx, task)
}

// RefreshSeriesMetadata submits a RefreshSeriesMetadata task.
func (d *Dispatcher) RefreshSeriesMetadata(ctx context.Context, seriesID string) error {
	task, err := tasks.NewRefreshSeriesMetadata(seriesID)
	if err != nil {
		return err
	}
	return d.submit(ctx, task)
}

// AggregateSeriesMetadata submits an AggregateSeriesMetadata task.
func (d *Dispatcher) AggregateSeriesMetadata(ctx context.Context, seriesID string) error {
	task, err := tasks.NewAggregateSeriesMetadata(seriesID)
	if err != nil {
		return err
	}
	return d.submit(ctx, task)
}

// fanOut builds and submits one task per id, in order. Every id is attempted.
func (d *Dispatcher) fanOut(ctx context.Context, ids []string, build func(id string) (tasks.Task, error)) error {
	var errs error
	for _, id := range ids {
		task, err := build(id)
		if err != nil {
			d.log.Error().Err(err).Str("subject_id", id).Msg("Skipping malformed task")
			errs = multierr.Append(errs, err)
			continue
		}
		if err := d.submit(ctx, task); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (d *Dispatcher) submit(ctx context.Context, task tasks.Task) error {
	d.observer.Submitting(ctx, task)

	routing := tasks.RoutingFor(task)
	if err := d.submitter.Submit(ctx, task, routing); err != nil {
		d.log.Error().Err(err).
			Str("kind", string(task.Kind())).
			Str("unique_id", routing.UniqueID).
			Msg("Failed to submit task")
		return fmt.Errorf("submit %s: %w", routing.UniqueID, err)
	}
	return nil
}
