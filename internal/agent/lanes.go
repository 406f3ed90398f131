package agent

import (
	"container/list"
	"sync"
)

// laneSet runs jobs FIFO per key with at most one worker per key. Distinct
// keys run in parallel, bounded by a shared semaphore.
type laneSet struct {
	mu    sync.Mutex
	lanes map[string]*lane
	sem   chan struct{}
	wg    sync.WaitGroup
}

type lane struct {
	jobs    *list.List // of func()
	running bool
}

func newLaneSet(concurrency int) *laneSet {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &laneSet{
		lanes: make(map[string]*lane),
		sem:   make(chan struct{}, concurrency),
	}
}

// Submit queues job behind any pending work for key. It never blocks.
func (ls *laneSet) Submit(key string, job func()) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ln, ok := ls.lanes[key]
	if !ok {
		ln = &lane{jobs: list.New()}
		ls.lanes[key] = ln
	}
	ln.jobs.PushBack(job)
	if ln.running {
		return
	}
	ln.running = true
	ls.wg.Add(1)
	go ls.drain(key, ln)
}

// drain runs the lane's jobs until it is empty, then removes the lane.
func (ls *laneSet) drain(key string, ln *lane) {
	defer ls.wg.Done()
	for {
		ls.mu.Lock()
		front := ln.jobs.Front()
		if front == nil {
			ln.running = false
			delete(ls.lanes, key)
			ls.mu.Unlock()
			return
		}
		ln.jobs.Remove(front)
		ls.mu.Unlock()

		ls.run(front.Value.(func()))
	}
}

func (ls *laneSet) run(job func()) {
	ls.sem <- struct{}{}
	defer func() { <-ls.sem }()
	job()
}

// Pending returns the number of queued jobs not yet started, across all keys.
func (ls *laneSet) Pending() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	n := 0
	for _, ln := range ls.lanes {
		n += ln.jobs.Len()
	}
	return n
}

// Wait blocks until every lane has drained.
func (ls *laneSet) Wait() {
	ls.wg.Wait()
}
