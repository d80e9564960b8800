package parallel

import (
	"runtime"
	"sync"
)

// Parallelize divides [0, items) into one contiguous range per CPU core and
// runs fn on each range concurrently.
func Parallelize(items int, fn func(start, end int)) {
	ParallelizeWorkers(items, runtime.NumCPU(), fn)
}

// ParallelizeWorkers is Parallelize with an explicit worker count. A count
// below one means one worker.
func ParallelizeWorkers(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > items {
		workers = items
	}

	// ceiling division
	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially when items does not exceed
// threshold and falls back to Parallelize otherwise.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEach calls fn(i) for every i in [0, items) using at most workers
// goroutines. Indices are handed out one at a time, so uneven work (a slow
// tree, a slow grid candidate) does not stall a whole chunk.
func ForEach(items, workers int, fn func(i int)) {
	if items <= 0 {
		return
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	if workers == 1 {
		for i := 0; i < items; i++ {
			fn(i)
		}
		return
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}
	for i := 0; i < items; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
}
