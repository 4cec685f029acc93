package activity

import (
	"sync/atomic"
)

// Receives the edges detected by a Monitor.
//
// Both methods are called from the render path and must not block.
type Notifier interface {
	NarrationStarted()
	NarrationFinished()
}

// A rendered buffer is active if any sample in it is nonzero.
func IsActive(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return true
		}
	}
	return false
}

// Infers start and end of speech from the rendered narration audio.
//
// Observe is called with every buffer the narration channel renders, at the playback
// engine's callback cadence. A silent->active edge calls NarrationStarted, an
// active->silent edge calls NarrationFinished. Nothing is reported while the level stays the same.
//
// Observe runs in O(len(buffer)) and never allocates. It must only be called from one goroutine;
// Active may be read from any.
type Monitor struct {
	notifier Notifier
	active   atomic.Bool
}

func NewMonitor(notifier Notifier) *Monitor {
	return &Monitor{
		notifier: notifier,
	}
}

func (m *Monitor) Observe(left []float32, right []float32) {
	active := IsActive(left) || IsActive(right)
	if active == m.active.Load() {
		return
	}
	m.active.Store(active)

	if m.notifier == nil {
		return
	}
	if active {
		m.notifier.NarrationStarted()
	} else {
		m.notifier.NarrationFinished()
	}
}

// Whether the last observed buffer was active.
func (m *Monitor) Active() bool {
	return m.active.Load()
}
