package cmn

import (
	"sync"

	"go.uber.org/atomic"
)

// DynSemaphore is a semaphore whose size can be changed while in use. The
// segment worker pool uses it to cap concurrent in-flight HTTP bodies
// independently of the number of planned segments.
type DynSemaphore struct {
	size int
	cur  int
	c    *sync.Cond
	mu   sync.Mutex
}

func NewDynSemaphore(n int) *DynSemaphore {
	s := &DynSemaphore{size: n}
	s.c = sync.NewCond(&s.mu)
	return s
}

func (s *DynSemaphore) SetSize(n int) {
	Assert(n >= 1)
	s.mu.Lock()
	s.size = n
	s.c.Broadcast()
	s.mu.Unlock()
}

func (s *DynSemaphore) Acquire() {
	s.mu.Lock()
	for s.cur >= s.size {
		s.c.Wait()
	}
	s.cur++
	s.mu.Unlock()
}

func (s *DynSemaphore) Release() {
	s.mu.Lock()
	Assert(s.cur > 0)
	s.cur--
	s.c.Signal()
	s.mu.Unlock()
}

// RunCell is a one-slot, latest-wins broadcast of a job's desired run
// state, readable by the job supervisor and every segment worker it owns.
// Sends never block: a pending, unread value is overwritten in place.
type RunState int32

const (
	Run RunState = iota
	Pause
	Cancel
)

type RunCell struct {
	state atomic.Int32
	ch    chan struct{}
	mu    sync.Mutex
}

func NewRunCell() *RunCell {
	rc := &RunCell{ch: make(chan struct{})}
	rc.state.Store(int32(Run))
	return rc
}

func (rc *RunCell) Get() RunState { return RunState(rc.state.Load()) }

// Set updates the desired state and wakes any goroutine blocked in Wait.
func (rc *RunCell) Set(s RunState) {
	rc.mu.Lock()
	rc.state.Store(int32(s))
	close(rc.ch)
	rc.ch = make(chan struct{})
	rc.mu.Unlock()
}

// Notify returns a channel closed the next time Set is called.
func (rc *RunCell) Notify() <-chan struct{} {
	rc.mu.Lock()
	ch := rc.ch
	rc.mu.Unlock()
	return ch
}
