package playback

import (
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/activity"
)

// Mixer sums every channel sink into one planar stereo output.
//
// Render is called by the render device at its natural callback cadence. Each sink is rendered
// into a scratch buffer; the narration buffer is handed to the activity monitor before it is
// mixed, so end of speech is detected from the audio actually played. The mix is clipped to [-1, 1].
//
// A Mixer is used from a single render goroutine. Render allocates only when called with a
// buffer longer than any before it.
type Mixer struct {
	narration *ChannelSink
	others    []*ChannelSink
	monitor   *activity.Monitor

	scratchLeft  []float32
	scratchRight []float32
}

// Create a mixer over the scheduler's sinks.
// bufferFrames is the expected render buffer length, used to size the scratch buffers.
func NewMixer(scheduler *Scheduler, monitor *activity.Monitor, bufferFrames int) *Mixer {
	sinks := scheduler.Sinks()
	return &Mixer{
		narration:    sinks[0],
		others:       sinks[1:],
		monitor:      monitor,
		scratchLeft:  make([]float32, bufferFrames),
		scratchRight: make([]float32, bufferFrames),
	}
}

func (m *Mixer) Render(left []float32, right []float32) {
	n := min(len(left), len(right))
	left, right = left[:n], right[:n]
	if len(m.scratchLeft) < n {
		m.scratchLeft = make([]float32, n)
		m.scratchRight = make([]float32, n)
	}
	scratchLeft, scratchRight := m.scratchLeft[:n], m.scratchRight[:n]

	m.narration.Render(left, right)
	if m.monitor != nil {
		m.monitor.Observe(left, right)
	}

	for _, sink := range m.others {
		if sink.Render(scratchLeft, scratchRight) == 0 {
			continue
		}
		for i := range n {
			left[i] += scratchLeft[i]
			right[i] += scratchRight[i]
		}
	}

	for i := range n {
		left[i] = clip(left[i])
		right[i] = clip(right[i])
	}
}

func clip(sample float32) float32 {
	return max(-1, min(1, sample))
}
