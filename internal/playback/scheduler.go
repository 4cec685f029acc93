package playback

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/conversion"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/reassembly"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
)

const defaultInboxSize = 512

var (
	ErrStopped = errors.New("playback scheduler stopped")
)

// Told whenever a transfer starts or stops downloading.
// Called from the Scheduler's goroutine; implementations must not block.
type DownloadNotifier interface {
	DownloadingChanged(channel protocol.Channel, sequenceID uuid.UUID, downloading bool)

	// A transfer finished without any of its audio being queued for playback, e.g. a transfer
	// shorter than the emit threshold. Called just before it is reported as no longer downloading.
	NothingQueued(channel protocol.Channel, sequenceID uuid.UUID)
}

type Config struct {
	EngineSampleRate int

	// Initial narration volume.
	Volume float32

	InboxSize int
}

// Scheduler turns reassembled chunks into queued playback.
//
// It implements reassembly.Downstream. Reassembly events and control requests (replay, volume,
// reset) share a single inbox processed by Run, so they are applied in the order they were posted:
//   - SequenceStarted clears the narration replay cache for a new narration transfer and reports
//     the channel as downloading.
//   - ChunkReady caches narration chunks, converts the chunk and enqueues it on its channel's sink.
//     Chunks of a channel without a sink are dropped.
//   - SequenceFinished queues the audio still held in the transfer's resampler, releases it and
//     reports the download as finished. A transfer that queued no audio at all is reported
//     as such first.
//   - Cleared releases the resampler of every discarded transfer and reports each as finished.
//
// A chunk that fails conversion is dropped on its own; the stream continues.
type Scheduler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	converter *conversion.Converter
	notifier  DownloadNotifier

	narration *ChannelSink
	sinks     map[protocol.Channel]*ChannelSink

	// Frames queued so far for each transfer still downloading.
	queuedFrames map[uuid.UUID]int

	inbox chan any
	done  chan struct{}
}

type replayRequest struct {
	done chan struct{}
}

type volumeRequest struct {
	volume float32
}

type resetRequest struct {
	done chan struct{}
}

type syncRequest struct {
	done chan struct{}
}

func DefaultConfig() Config {
	return Config{
		EngineSampleRate: 44100,
		Volume:           conversion.DefaultVolume,
		InboxSize:        defaultInboxSize,
	}
}

func NewScheduler(cfg Config, notifier DownloadNotifier, m *metrics.Metrics) *Scheduler {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}

	converter := conversion.NewConverter(cfg.EngineSampleRate)
	converter.SetVolume(cfg.Volume)

	narration := NewChannelSink(protocol.ChannelNarration, true, m)
	return &Scheduler{
		logger:    utils.ComponentLogger("scheduler", uuid.New()),
		metrics:   m,
		converter: converter,
		notifier:  notifier,
		narration: narration,
		sinks: map[protocol.Channel]*ChannelSink{
			protocol.ChannelNarration: narration,
			protocol.ChannelMusic:     NewChannelSink(protocol.ChannelMusic, false, m),
			protocol.ChannelEffects:   NewChannelSink(protocol.ChannelEffects, false, m),
		},
		queuedFrames: make(map[uuid.UUID]int),
		inbox:        make(chan any, cfg.InboxSize),
		done:         make(chan struct{}),
	}
}

// Sink of the given channel, or nil if the channel is never played.
func (s *Scheduler) Sink(channel protocol.Channel) *ChannelSink {
	return s.sinks[channel]
}

// All sinks, narration first.
func (s *Scheduler) Sinks() []*ChannelSink {
	return []*ChannelSink{
		s.narration,
		s.sinks[protocol.ChannelMusic],
		s.sinks[protocol.ChannelEffects],
	}
}

// Post a reassembly event. Blocks while the inbox is full; dropped once the Scheduler stopped.
func (s *Scheduler) Post(event reassembly.Event) {
	select {
	case s.inbox <- event:
	case <-s.done:
	}
}

// Process events and requests until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.inbox:
			switch req := req.(type) {
			case reassembly.SequenceStarted:
				s.handleSequenceStarted(req)
			case reassembly.ChunkReady:
				s.handleChunk(req.Chunk)
			case reassembly.SequenceFinished:
				s.handleSequenceFinished(req)
			case reassembly.Cleared:
				for _, seq := range req.Sequences {
					delete(s.queuedFrames, seq.SequenceID)
					s.converter.Forget(seq.SequenceID)
					s.notifyDownloading(seq.Channel, seq.SequenceID, false)
				}
			case replayRequest:
				s.replay()
				close(req.done)
			case volumeRequest:
				s.converter.SetVolume(req.volume)
				s.logger.Debug("narration volume set", "volume", s.converter.GetVolume())
			case resetRequest:
				s.reset()
				close(req.done)
			case syncRequest:
				close(req.done)
			}
		}
	}
}

// Queue the whole replay cache for playback again, in original order.
// Returns once the replayed audio is queued. No-op if the cache is empty.
func (s *Scheduler) Replay(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.post(ctx, replayRequest{done: done}); err != nil {
		return err
	}
	return s.wait(ctx, done)
}

// Set the narration volume for chunks converted from now on.
func (s *Scheduler) SetVolume(ctx context.Context, volume float32) error {
	return s.post(ctx, volumeRequest{volume: volume})
}

// Drop every queued buffer and the replay cache.
// Every event posted before the call is processed first, so no chunk posted earlier is
// queued afterwards.
func (s *Scheduler) Reset(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.post(ctx, resetRequest{done: done}); err != nil {
		return err
	}
	return s.wait(ctx, done)
}

// Wait until every event and request posted before the call has been processed.
func (s *Scheduler) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.post(ctx, syncRequest{done: done}); err != nil {
		return err
	}
	return s.wait(ctx, done)
}

func (s *Scheduler) post(ctx context.Context, req any) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.inbox <- req:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------------

func (s *Scheduler) handleSequenceStarted(event reassembly.SequenceStarted) {
	if event.Channel == protocol.ChannelNarration {
		// A new turn of speech supersedes the previous one.
		s.narration.ClearReplayCache()
	}
	s.queuedFrames[event.SequenceID] = 0
	s.notifyDownloading(event.Channel, event.SequenceID, true)
}

func (s *Scheduler) handleSequenceFinished(event reassembly.SequenceFinished) {
	s.finish(event.Channel, event.SequenceID)

	queued, tracked := s.queuedFrames[event.SequenceID]
	delete(s.queuedFrames, event.SequenceID)
	if tracked && queued == 0 {
		s.logger.Debug(
			"sequence finished without queued audio",
			"sequenceID", event.SequenceID,
			"indicator", event.Indicator,
			"chunksEmitted", event.ChunksEmitted,
			"discardedBytes", event.DiscardedBytes,
		)
		if s.notifier != nil {
			s.notifier.NothingQueued(event.Channel, event.SequenceID)
		}
	}
	s.notifyDownloading(event.Channel, event.SequenceID, false)
}

func (s *Scheduler) handleChunk(chunk reassembly.Chunk) {
	sink, ok := s.sinks[chunk.Channel]
	if !ok {
		s.metrics.ChunkDropped(chunk.Channel.String(), metrics.ReasonUnknownChannel)
		s.logger.Debug(
			"dropping chunk of unplayed channel",
			"indicator", chunk.Indicator,
			"sequenceID", chunk.SequenceID,
		)
		return
	}

	sink.CacheChunk(chunk)
	s.enqueue(sink, chunk.SequenceID, chunk)
}

func (s *Scheduler) enqueue(sink *ChannelSink, resamplerKey uuid.UUID, chunk reassembly.Chunk) {
	converted, err := s.converter.Convert(chunk.Channel, resamplerKey, chunk.SampleRate, chunk.Data)
	if err != nil {
		s.metrics.ConversionFailed(chunk.Channel.String())
		s.logger.Warn(
			"dropping chunk",
			"sequenceID", chunk.SequenceID,
			"chunkSize", len(chunk.Data),
			"err", err,
		)
		return
	}
	s.queue(sink, resamplerKey, converted)
}

func (s *Scheduler) queue(sink *ChannelSink, sequenceID uuid.UUID, buffer frame.StereoFrame) {
	sink.Enqueue(buffer)
	if queued, ok := s.queuedFrames[sequenceID]; ok {
		s.queuedFrames[sequenceID] = queued + buffer.Len()
	}
}

func (s *Scheduler) replay() {
	chunks := s.narration.ReplayCache()
	if len(chunks) == 0 {
		s.logger.Debug("replay requested with an empty replay cache")
		return
	}

	// Replayed audio gets its own resampler so it does not continue the filter
	// state of a transfer that may still be downloading.
	replayKey := uuid.New()

	s.logger.Info("replaying narration", "chunks", len(chunks))
	for _, chunk := range chunks {
		s.enqueue(s.narration, replayKey, chunk)
	}
	s.finish(protocol.ChannelNarration, replayKey)
}

// Queue whatever the resampler of a completed transfer still holds.
func (s *Scheduler) finish(channel protocol.Channel, resamplerKey uuid.UUID) {
	tail := s.converter.Finish(resamplerKey)
	if tail.Len() == 0 {
		return
	}
	if sink, ok := s.sinks[channel]; ok {
		s.queue(sink, resamplerKey, tail)
	}
}

func (s *Scheduler) reset() {
	for _, sink := range s.sinks {
		sink.Reset()
	}
	clear(s.queuedFrames)
	s.converter.Reset()
	s.logger.Debug("playback reset")
}

func (s *Scheduler) notifyDownloading(channel protocol.Channel, sequenceID uuid.UUID, downloading bool) {
	if s.notifier == nil {
		return
	}
	s.notifier.DownloadingChanged(channel, sequenceID, downloading)
}
