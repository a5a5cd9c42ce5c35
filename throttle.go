package docpool

import (
	"sync"
	"time"
)

// time windowed rate control for outgoing emission.
// a zero window invokes inline.

// latest wins within the window. used for snapshot values (title).
type throttle struct {
	window time.Duration

	mutex     sync.Mutex
	latest    func()
	scheduled bool
}

func newThrottle(window time.Duration) *throttle {
	return &throttle{
		window: window,
	}
}

func (self *throttle) emit(do func()) {
	if self.window <= 0 {
		do()
		return
	}

	self.mutex.Lock()
	self.latest = do
	if self.scheduled {
		self.mutex.Unlock()
		return
	}
	self.scheduled = true
	self.mutex.Unlock()

	time.AfterFunc(self.window, func() {
		self.mutex.Lock()
		latest := self.latest
		self.latest = nil
		self.scheduled = false
		self.mutex.Unlock()

		if latest != nil {
			latest()
		}
	})
}

// collects in order and flushes the whole batch at the end of the window.
// used for deltas, which must each be delivered exactly once and in order.
type batcher struct {
	window time.Duration

	mutex     sync.Mutex
	pending   []func()
	scheduled bool
}

func newBatcher(window time.Duration) *batcher {
	return &batcher{
		window: window,
	}
}

func (self *batcher) emit(do func()) {
	if self.window <= 0 {
		do()
		return
	}

	self.mutex.Lock()
	self.pending = append(self.pending, do)
	if self.scheduled {
		self.mutex.Unlock()
		return
	}
	self.scheduled = true
	self.mutex.Unlock()

	time.AfterFunc(self.window, self.flush)
}

func (self *batcher) flush() {
	self.mutex.Lock()
	pending := self.pending
	self.pending = nil
	self.scheduled = false
	self.mutex.Unlock()

	for _, do := range pending {
		do()
	}
}
