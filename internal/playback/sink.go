package playback

import (
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/reassembly"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ChannelSink is the playback queue of one logical channel.
//
// Converted buffers are enqueued by the Scheduler and pulled by the Mixer at render cadence.
// They are played back-to-back in arrival order, with no gap between two buffers: a render
// call that exhausts one buffer continues directly into the next.
//
// The narration sink additionally keeps a replay cache: every raw chunk handed to it since the
// cache was last cleared, in order.
//
// All methods are safe for concurrent use. Render never allocates.
type ChannelSink struct {
	logger  *slog.Logger
	channel protocol.Channel

	mu     sync.Mutex
	queue  []frame.StereoFrame
	offset int // frames of queue[0] already rendered

	replayEnabled bool
	replayCache   []reassembly.Chunk

	queuedGauge prometheus.Gauge
}

func NewChannelSink(channel protocol.Channel, withReplayCache bool, m *metrics.Metrics) *ChannelSink {
	return &ChannelSink{
		logger:        utils.ComponentLogger("sink", uuid.New(), "channel", channel),
		channel:       channel,
		replayEnabled: withReplayCache,
		queuedGauge:   m.QueuedGauge(channel.String()),
	}
}

func (s *ChannelSink) Channel() protocol.Channel {
	return s.channel
}

// Append a converted buffer to the end of the queue.
func (s *ChannelSink) Enqueue(buffer frame.StereoFrame) {
	if buffer.Len() == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, buffer)
	s.updateGauge()
}

// Fill left and right with the next queued frames.
//
// Returns the number of frames taken from the queue; any frames beyond that are set to silence.
// left and right must have the same length.
func (s *ChannelSink) Render(left []float32, right []float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(len(left), len(right))
	written := 0
	for written < n && len(s.queue) > 0 {
		head := s.queue[0]
		copied := copy(left[written:n], head.Left[s.offset:])
		copy(right[written:written+copied], head.Right[s.offset:])
		written += copied
		s.offset += copied

		if s.offset >= head.Len() {
			s.queue[0] = frame.StereoFrame{}
			s.queue = s.queue[1:]
			s.offset = 0
		}
	}
	clear(left[written:])
	clear(right[written:])
	s.updateGauge()
	return written
}

// Number of buffers waiting to be played, including a partially played one.
func (s *ChannelSink) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Drop every queued but unplayed buffer and clear the replay cache.
func (s *ChannelSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.queue)
	s.queue = nil
	s.offset = 0
	s.replayCache = nil
	s.updateGauge()
}

// --------------------------------------------------------------------------------
// Replay cache

// Append a raw chunk to the replay cache. No-op for sinks without one.
func (s *ChannelSink) CacheChunk(chunk reassembly.Chunk) {
	if !s.replayEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayCache = append(s.replayCache, chunk)
}

func (s *ChannelSink) ClearReplayCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replayCache) > 0 {
		s.logger.Debug("clearing replay cache", "chunks", len(s.replayCache))
	}
	s.replayCache = nil
}

// Snapshot of the replay cache in original order.
// Chunk data is shared with the cache and must not be modified.
func (s *ChannelSink) ReplayCache() []reassembly.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reassembly.Chunk(nil), s.replayCache...)
}

func (s *ChannelSink) updateGauge() {
	if s.queuedGauge != nil {
		s.queuedGauge.Set(float64(len(s.queue)))
	}
}
