// Package main provides a benchmark tool for the library task queue. Concurrent
// producers submit tasks over a limited set of books, so most submissions are
// duplicates of pending work; the tool measures submission throughput and how
// many submissions the queue coalesced.
//
// Usage:
//
//	go run ./benchmark -submissions 100000 -books 1000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/librarytasks/pkg/queue"
	"github.com/guido-cesarano/librarytasks/pkg/tasks"
)

func main() {
	addr := flag.String("addr", "localhost:6379", "Redis address")
	numSubmissions := flag.Int("submissions", 100000, "Number of tasks to submit")
	numBooks := flag.Int("books", 1000, "Number of distinct books")
	numWorkers := flag.Int("workers", 10, "Number of concurrent producers")
	flag.Parse()

	client := queue.NewClient(queue.Options{Addr: *addr})
	defer client.Close()
	ctx := context.Background()

	fmt.Printf("Library Tasks Benchmark\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Submissions: %d\n", *numSubmissions)
	fmt.Printf("Distinct books: %d\n", *numBooks)
	fmt.Printf("Concurrent producers: %d\n\n", *numWorkers)

	before := client.GetQueueDepths(ctx)[client.Queue()]

	start := time.Now()
	var wg sync.WaitGroup
	var submitted, failed atomic.Int64
	perWorker := *numSubmissions / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				bookID := fmt.Sprintf("book-%d", (workerID*perWorker+j)%*numBooks)
				task, err := tasks.NewAnalyzeBook(bookID)
				if err != nil {
					failed.Add(1)
					continue
				}
				if err := client.Submit(ctx, task, tasks.RoutingFor(task)); err != nil {
					failed.Add(1)
					continue
				}
				submitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	queued := client.GetQueueDepths(ctx)[client.Queue()] - before

	fmt.Printf("✓ Submitted %d tasks in %s (%d failed)\n", submitted.Load(), elapsed, failed.Load())
	fmt.Printf("  Throughput: %.2f submissions/sec\n", float64(submitted.Load())/elapsed.Seconds())
	fmt.Printf("  Queued: %d, coalesced: %d\n", queued, submitted.Load()-queued)
}
