// Package eventloop implements C6: a priority-tagged, tag-filterable
// work queue drained by a fixed worker pool.
package eventloop

import (
	"sync"

	"go.uber.org/zap"
)

// Priority bands, strict: Critical > High > Normal > Low. Within one
// band, items dequeue in posting order.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// WorkItem is one unit of dispatch: a closure plus its tag set.
type WorkItem struct {
	Tags []string
	Run  func()
}

func hasTag(tags []string, t string) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}

// TagFilter is an allow-list of tags; a work item executes only if its
// tag set intersects the allow-list, or if no filter is installed.
type TagFilter struct {
	mu    sync.RWMutex
	allow map[string]struct{}
	set   bool
}

// NewTagFilter returns an uninstalled filter (everything passes).
func NewTagFilter() *TagFilter { return &TagFilter{allow: make(map[string]struct{})} }

// Install replaces the allow-list. An empty slice installs a filter that
// blocks everything; to remove filtering entirely use Clear.
func (f *TagFilter) Install(tags []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allow = make(map[string]struct{}, len(tags))
	for _, t := range tags {
		f.allow[t] = struct{}{}
	}
	f.set = true
}

// Clear removes the installed filter; everything passes again.
func (f *TagFilter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allow = make(map[string]struct{})
	f.set = false
}

// Allows reports whether tags may execute under the current filter.
func (f *TagFilter) Allows(tags []string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.set {
		return true
	}
	for _, t := range tags {
		if _, ok := f.allow[t]; ok {
			return true
		}
	}
	return false
}

type queues struct {
	mu   sync.Mutex
	cond *sync.Cond
	bands [4][]WorkItem // indexed by Priority
	stopped bool
}

func newQueues() *queues {
	q := &queues{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queues) push(p Priority, item WorkItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.bands[p] = append(q.bands[p], item)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available or the queue is stopped with no
// remaining work. Higher bands are drained first, and stop() discards
// nothing: every item queued before stop() is still handed out, Critical
// first (spec.md §4.5 "outstanding items at Critical are completed
// first").
func (q *queues) pop() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for p := Critical; p >= Low; p-- {
			if len(q.bands[p]) > 0 {
				item := q.bands[p][0]
				q.bands[p] = q.bands[p][1:]
				return item, true
			}
		}
		if q.stopped {
			return WorkItem{}, false
		}
		q.cond.Wait()
	}
}

func (q *queues) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.cond.Broadcast()
}

// EventLoop is the C6 dispatcher: a fixed worker pool draining an MPMC
// priority queue, with an optional tag filter.
type EventLoop struct {
	q       *queues
	filter  *TagFilter
	workers int
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
}

// New builds an EventLoop with the given worker count (clamped to at
// least 1).
func New(workers int, log *zap.SugaredLogger) *EventLoop {
	if workers < 1 {
		workers = 1
	}
	return &EventLoop{
		q:       newQueues(),
		filter:  NewTagFilter(),
		workers: workers,
		log:     log,
	}
}

// Filter returns the loop's installable tag filter.
func (e *EventLoop) Filter() *TagFilter { return e.filter }

// Start launches the worker pool. Each worker blocks on pop() between
// items; there are no cooperative yield points inside a running item.
func (e *EventLoop) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

func (e *EventLoop) worker() {
	defer e.wg.Done()
	for {
		item, ok := e.q.pop()
		if !ok {
			return
		}
		if !e.filter.Allows(item.Tags) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil && e.log != nil {
					e.log.Errorw("event loop item panicked", "recover", r, "tags", item.Tags)
				}
			}()
			item.Run()
		}()
	}
}

// Post enqueues a work item at the given priority. Returns false if the
// loop has been stopped (refuses new posts per spec.md §4.5).
func (e *EventLoop) Post(p Priority, tags []string, run func()) bool {
	return e.q.push(p, WorkItem{Tags: tags, Run: run})
}

// Stop drains in-flight items (workers finish whatever they popped, then
// every still-queued item of every band, Critical first) and refuses new
// posts, then waits for all workers to exit.
func (e *EventLoop) Stop() {
	e.q.stop()
	e.wg.Wait()
}
