package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/guido-cesarano/librarytasks/pkg/domain"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLibraries struct {
	ids []string
	err error
}

func (f fakeLibraries) ListLibraryIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakeBooks struct {
	// books maps library id to book ids per status.
	books map[string]map[domain.MediaStatus][]string
	err   error

	mu    sync.Mutex
	calls [][]domain.MediaStatus
}

func (f *fakeBooks) FindBookIDs(_ context.Context, libraryIDs []string, statuses []domain.MediaStatus) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, statuses)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for _, lib := range libraryIDs {
		for _, status := range statuses {
			ids = append(ids, f.books[lib][status]...)
		}
	}
	return ids, nil
}

type submission struct {
	task    tasks.Task
	routing tasks.Routing
}

type recordingSubmitter struct {
	mu       sync.Mutex
	attempts []submission
	failFor  map[string]error
}

func (r *recordingSubmitter) Submit(_ context.Context, task tasks.Task, routing tasks.Routing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, submission{task: task, routing: routing})
	return r.failFor[routing.UniqueID]
}

func newTestDispatcher(libs LibrarySource, books BookSource, sub Submitter, opts ...Option) *Dispatcher {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(libs, books, sub, opts...)
}

func TestScanLibrariesSubmitsOneTaskPerLibrary(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{ids: []string{"L1", "L2", "L3"}}, &fakeBooks{}, sub)

	require.NoError(t, d.ScanLibraries(context.Background()))

	require.Len(t, sub.attempts, 3)
	unique := make(map[string]bool)
	for i, want := range []string{"L1", "L2", "L3"} {
		got := sub.attempts[i]
		scan, ok := got.task.(tasks.ScanLibrary)
		require.True(t, ok, "expected ScanLibrary, got %T", got.task)
		assert.Equal(t, want, scan.LibraryID())
		assert.Equal(t, tasks.MessageType, got.routing.Type)
		assert.Equal(t, scan.UniqueID(), got.routing.UniqueID)
		unique[got.routing.UniqueID] = true
	}
	assert.Len(t, unique, 3)
}

func TestScanLibrariesListFailureSubmitsNothing(t *testing.T) {
	sub := &recordingSubmitter{}
	listErr := errors.New("database down")
	d := newTestDispatcher(fakeLibraries{err: listErr}, &fakeBooks{}, sub)

	err := d.ScanLibraries(context.Background())
	assert.ErrorIs(t, err, listErr)
	assert.Empty(t, sub.attempts)
}

func TestScanLibrariesContinuesAfterSubmissionFailure(t *testing.T) {
	transportErr := errors.New("queue full")
	sub := &recordingSubmitter{failFor: map[string]error{"scan_library:L1": transportErr}}
	d := newTestDispatcher(fakeLibraries{ids: []string{"L1", "L2"}}, &fakeBooks{}, sub)

	err := d.ScanLibraries(context.Background())
	assert.ErrorIs(t, err, transportErr)
	assert.Len(t, sub.attempts, 2)
}

func TestAnalyzeUnknownAndOutdatedBooks(t *testing.T) {
	books := &fakeBooks{books: map[string]map[domain.MediaStatus][]string{
		"L1": {
			domain.MediaStatusUnknown:  {"B2"},
			domain.MediaStatusOutdated: {"B5"},
			domain.MediaStatusReady:    {"B1"},
			domain.MediaStatusError:    {"B3"},
		},
		"L2": {
			domain.MediaStatusUnknown: {"B9"},
		},
	}}
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{}, books, sub)

	require.NoError(t, d.AnalyzeUnknownAndOutdatedBooks(context.Background(), "L1"))

	require.Len(t, books.calls, 1)
	assert.ElementsMatch(t, []domain.MediaStatus{domain.MediaStatusUnknown, domain.MediaStatusOutdated}, books.calls[0])

	require.Len(t, sub.attempts, 2)
	var got []string
	for _, s := range sub.attempts {
		analyze, ok := s.task.(tasks.AnalyzeBook)
		require.True(t, ok)
		got = append(got, analyze.BookID())
	}
	assert.Equal(t, []string{"B2", "B5"}, got)
}

func TestAnalyzeUnknownAndOutdatedBooksIndependentSubmissions(t *testing.T) {
	books := &fakeBooks{books: map[string]map[domain.MediaStatus][]string{
		"L1": {
			domain.MediaStatusUnknown:  {"B2"},
			domain.MediaStatusOutdated: {"B5"},
		},
	}}
	transportErr := errors.New("connection reset")
	sub := &recordingSubmitter{failFor: map[string]error{"analyze_book:B2": transportErr}}
	d := newTestDispatcher(fakeLibraries{}, books, sub)

	err := d.AnalyzeUnknownAndOutdatedBooks(context.Background(), "L1")
	assert.ErrorIs(t, err, transportErr)

	require.Len(t, sub.attempts, 2)
	assert.Equal(t, "analyze_book:B5", sub.attempts[1].routing.UniqueID)
}

func TestAnalyzeUnknownAndOutdatedBooksQueryFailureSubmitsNothing(t *testing.T) {
	queryErr := errors.New("timeout")
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{}, &fakeBooks{err: queryErr}, sub)

	err := d.AnalyzeUnknownAndOutdatedBooks(context.Background(), "L1")
	assert.ErrorIs(t, err, queryErr)
	assert.Empty(t, sub.attempts)
}

func TestFanOutSkipsMalformedIDs(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{ids: []string{"L1", "", "L3"}}, &fakeBooks{}, sub)

	err := d.ScanLibraries(context.Background())
	assert.ErrorIs(t, err, tasks.ErrMissingSubject)
	require.Len(t, sub.attempts, 2)
	assert.Equal(t, "scan_library:L3", sub.attempts[1].routing.UniqueID)
}

func TestSingleTaskOperations(t *testing.T) {
	tests := []struct {
		name     string
		call     func(d *Dispatcher) error
		kind     tasks.Kind
		uniqueID string
	}{
		{
			name:     "scan library",
			call:     func(d *Dispatcher) error { return d.ScanLibrary(context.Background(), "L1") },
			kind:     tasks.KindScanLibrary,
			uniqueID: "scan_library:L1",
		},
		{
			name:     "analyze book",
			call:     func(d *Dispatcher) error { return d.AnalyzeBook(context.Background(), "B1") },
			kind:     tasks.KindAnalyzeBook,
			uniqueID: "analyze_book:B1",
		},
		{
			name:     "generate thumbnail",
			call:     func(d *Dispatcher) error { return d.GenerateBookThumbnail(context.Background(), "B1") },
			kind:     tasks.KindGenerateBookThumbnail,
			uniqueID: "generate_book_thumbnail:B1",
		},
		{
			name: "refresh book metadata",
			call: func(d *Dispatcher) error {
				return d.RefreshBookMetadata(context.Background(), "B1", tasks.CapabilityTitle, tasks.CapabilityAuthors)
			},
			kind:     tasks.KindRefreshBookMetadata,
			uniqueID: "refresh_book_metadata:B1:AUTHORS,TITLE",
		},
		{
			name:     "refresh series metadata",
			call:     func(d *Dispatcher) error { return d.RefreshSeriesMetadata(context.Background(), "S1") },
			kind:     tasks.KindRefreshSeriesMetadata,
			uniqueID: "refresh_series_metadata:S1",
		},
		{
			name:     "aggregate series metadata",
			call:     func(d *Dispatcher) error { return d.AggregateSeriesMetadata(context.Background(), "S1") },
			kind:     tasks.KindAggregateSeriesMetadata,
			uniqueID: "aggregate_series_metadata:S1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &recordingSubmitter{}
			d := newTestDispatcher(fakeLibraries{}, &fakeBooks{}, sub)

			require.NoError(t, tt.call(d))
			require.Len(t, sub.attempts, 1)
			assert.Equal(t, tt.kind, sub.attempts[0].task.Kind())
			assert.Equal(t, tt.uniqueID, sub.attempts[0].routing.UniqueID)
			assert.Equal(t, tasks.MessageType, sub.attempts[0].routing.Type)
		})
	}
}

func TestRefreshBookMetadataDefaultsToAllCapabilities(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{}, &fakeBooks{}, sub)

	require.NoError(t, d.RefreshBookMetadata(context.Background(), "B1"))

	require.Len(t, sub.attempts, 1)
	refresh, ok := sub.attempts[0].task.(tasks.RefreshBookMetadata)
	require.True(t, ok)
	assert.ElementsMatch(t, tasks.AllCapabilities(), refresh.Capabilities())
}

func TestSingleTaskRejectsMissingSubject(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{}, &fakeBooks{}, sub)

	assert.ErrorIs(t, d.ScanLibrary(context.Background(), ""), tasks.ErrMissingSubject)
	assert.ErrorIs(t, d.AnalyzeBook(context.Background(), ""), tasks.ErrMissingSubject)
	assert.ErrorIs(t, d.RefreshSeriesMetadata(context.Background(), " "), tasks.ErrMissingSubject)
	assert.ErrorIs(t, d.RefreshBookMetadata(context.Background(), "B1", tasks.Capability("NOPE")), tasks.ErrUnknownCapability)
	assert.Empty(t, sub.attempts)
}

func TestSingleTaskSurfacesSubmissionFailure(t *testing.T) {
	transportErr := errors.New("broker unavailable")
	sub := &recordingSubmitter{failFor: map[string]error{"generate_book_thumbnail:B1": transportErr}}
	d := newTestDispatcher(fakeLibraries{}, &fakeBooks{}, sub)

	assert.ErrorIs(t, d.GenerateBookThumbnail(context.Background(), "B1"), transportErr)
}

func TestObserverSeesTaskBeforeSubmission(t *testing.T) {
	var events []string
	sub := submitterFunc(func(_ context.Context, task tasks.Task, _ tasks.Routing) error {
		events = append(events, "submit "+task.UniqueID())
		return nil
	})
	observer := ObserverFunc(func(_ context.Context, task tasks.Task) {
		events = append(events, "observe "+task.UniqueID())
	})
	d := newTestDispatcher(fakeLibraries{}, &fakeBooks{}, sub, WithObserver(observer))

	require.NoError(t, d.AnalyzeBook(context.Background(), "B1"))
	assert.Equal(t, []string{"observe analyze_book:B1", "submit analyze_book:B1"}, events)
}

func TestConcurrentOperations(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDispatcher(fakeLibraries{ids: []string{"L1", "L2"}}, &fakeBooks{}, sub, WithObserver(NopObserver{}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.ScanLibraries(context.Background()))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, d.ScanLibrary(context.Background(), "L1"))
		}()
	}
	wg.Wait()

	assert.Len(t, sub.attempts, 30)
}

type submitterFunc func(ctx context.Context, task tasks.Task, routing tasks.Routing) error

func (f submitterFunc) Submit(ctx context.Context, task tasks.Task, routing tasks.Routing) error {
	return f(ctx, task, routing)
}
