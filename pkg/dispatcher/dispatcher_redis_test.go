package dispatcher

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/librarytasks/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A scheduled full scan racing user triggered scans must leave a single pending
// task per library.
func TestScanRaceIsCoalescedByRedis(t *testing.T) {
	s := miniredis.RunT(t)
	client := queue.NewClient(queue.Options{Addr: s.Addr()})
	defer client.Close()

	d := newTestDispatcher(fakeLibraries{ids: []string{"L1", "L2", "L3"}}, &fakeBooks{}, client, WithObserver(NopObserver{}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.ScanLibraries(context.Background()))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, d.ScanLibrary(context.Background(), "L2"))
		}()
	}
	wg.Wait()

	items, err := s.List(queue.DefaultTaskQueue)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
