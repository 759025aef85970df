package circuit

import (
	"golang.org/x/sync/errgroup"
)

type batchResult struct {
	idx int
	err error
}

type poolTask struct {
	idx  int
	run  func() error
	done chan<- batchResult
}

// workerPool keeps a fixed set of goroutines alive across Newton
// iterations. It is rebuilt when the thread count changes.
type workerPool struct {
	size  int
	tasks chan poolTask
	group errgroup.Group
}

func newWorkerPool(size int) *workerPool {
	p := &workerPool{size: size, tasks: make(chan poolTask)}
	for range size {
		p.group.Go(func() error {
			for t := range p.tasks {
				t.done <- batchResult{idx: t.idx, err: t.run()}
			}
			return nil
		})
	}
	return p
}

// fanOut runs all but the last batch on the workers and the last one on the
// calling goroutine, then waits for every batch. The error of the lowest
// numbered failing batch is returned.
func (p *workerPool) fanOut(batches [][]loadItem, run func([]loadItem) error) error {
	last := len(batches) - 1
	done := make(chan batchResult, last)
	for i := 0; i < last; i++ {
		batch := batches[i]
		p.tasks <- poolTask{idx: i, run: func() error { return run(batch) }, done: done}
	}

	errs := make([]error, len(batches))
	errs[last] = run(batches[last])
	for range last {
		r := <-done
		errs[r.idx] = r.err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *workerPool) close() {
	close(p.tasks)
	_ = p.group.Wait()
}
