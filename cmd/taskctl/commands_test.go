package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/guido-cesarano/librarytasks/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	calls        []string
	capabilities []tasks.Capability
	err          error
}

func (f *fakeDispatcher) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeDispatcher) ScanLibraries(context.Context) error { return f.record("scan-libraries") }
func (f *fakeDispatcher) ScanLibrary(_ context.Context, id string) error {
	return f.record("scan-library " + id)
}
func (f *fakeDispatcher) AnalyzeUnknownAndOutdatedBooks(_ context.Context, id string) error {
	return f.record("analyze-library " + id)
}
func (f *fakeDispatcher) AnalyzeBook(_ context.Context, id string) error {
	return f.record("analyze-book " + id)
}
func (f *fakeDispatcher) GenerateBookThumbnail(_ context.Context, id string) error {
	return f.record("generate-thumbnail " + id)
}
func (f *fakeDispatcher) RefreshBookMetadata(_ context.Context, id string, capabilities ...tasks.Capability) error {
	f.capabilities = capabilities
	return f.record("refresh-book-metadata " + id)
}
func (f *fakeDispatcher) RefreshSeriesMetadata(_ context.Context, id string) error {
	return f.record("refresh-series-metadata " + id)
}
func (f *fakeDispatcher) AggregateSeriesMetadata(_ context.Context, id string) error {
	return f.record("aggregate-series-metadata " + id)
}

func execute(t *testing.T, d *fakeDispatcher, args ...string) (string, error) {
	t.Helper()
	closed := false
	cmd := newRootCmdWith(func(context.Context, string) (TaskDispatcher, func() error, error) {
		return d, func() error { closed = true; return nil }, nil
	})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if len(d.calls) > 0 {
		assert.True(t, closed, "connections must be released")
	}
	return out.String(), err
}

func TestCommandsCallDispatcher(t *testing.T) {
	tests := [][]string{
		{"scan-libraries"},
		{"scan-library", "L1"},
		{"analyze-library", "L1"},
		{"analyze-book", "B1"},
		{"generate-thumbnail", "B1"},
		{"refresh-book-metadata", "B1"},
		{"refresh-series-metadata", "S1"},
		{"aggregate-series-metadata", "S1"},
	}

	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			d := &fakeDispatcher{}
			out, err := execute(t, d, args...)
			require.NoError(t, err)

			want := args[0]
			if len(args) > 1 {
				want += " " + args[1]
			}
			assert.Equal(t, []string{want}, d.calls)
			assert.Contains(t, out, "Task submitted")
		})
	}
}

func TestRefreshBookMetadataCapabilities(t *testing.T) {
	d := &fakeDispatcher{}
	_, err := execute(t, d, "refresh-book-metadata", "B1", "--capability", "title", "--capability", "authors")
	require.NoError(t, err)
	assert.Equal(t, []tasks.Capability{tasks.CapabilityTitle, tasks.CapabilityAuthors}, d.capabilities)

	d = &fakeDispatcher{}
	_, err = execute(t, d, "refresh-book-metadata", "B1")
	require.NoError(t, err)
	assert.Empty(t, d.capabilities)

	d = &fakeDispatcher{}
	_, err = execute(t, d, "refresh-book-metadata", "B1", "--capability", "cover")
	assert.ErrorIs(t, err, tasks.ErrUnknownCapability)
	assert.Empty(t, d.calls)
}

func TestCommandArgs(t *testing.T) {
	d := &fakeDispatcher{}
	_, err := execute(t, d, "scan-library")
	assert.Error(t, err)
	assert.Empty(t, d.calls)
}

func TestCommandSurfacesDispatchError(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("redis unavailable")}
	out, err := execute(t, d, "analyze-book", "B1")
	assert.EqualError(t, err, "redis unavailable")
	assert.NotContains(t, out, "Task submitted")
}
