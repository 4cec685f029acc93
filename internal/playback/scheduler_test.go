package playback_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/playback"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/reassembly"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testRate = 24000

type download struct {
	Channel     protocol.Channel
	SequenceID  uuid.UUID
	Downloading bool

	// Size of the narration replay cache when the notification was made.
	CachedChunks int
}

type downloadRecorder struct {
	mu        sync.Mutex
	scheduler *playback.Scheduler
	downloads []download
	nothingQueued []nothingQueued
}

type nothingQueued struct {
	Channel    protocol.Channel
	SequenceID uuid.UUID

	// Downloading notifications made before this one.
	DownloadsBefore int
}

func (r *downloadRecorder) DownloadingChanged(channel protocol.Channel, sequenceID uuid.UUID, downloading bool) {
	cached := len(r.scheduler.Sink(protocol.ChannelNarration).ReplayCache())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads = append(r.downloads, download{channel, sequenceID, downloading, cached})
}

func (r *downloadRecorder) NothingQueued(channel protocol.Channel, sequenceID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nothingQueued = append(r.nothingQueued, nothingQueued{channel, sequenceID, len(r.downloads)})
}

func (r *downloadRecorder) takeNothingQueued() []nothingQueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.nothingQueued
	r.nothingQueued = nil
	return d
}

func (r *downloadRecorder) take() []download {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.downloads
	r.downloads = nil
	return d
}

func startScheduler(t *testing.T, m *metrics.Metrics) (*playback.Scheduler, *downloadRecorder) {
	t.Helper()
	cfg := playback.DefaultConfig()
	cfg.EngineSampleRate = testRate

	rec := &downloadRecorder{}
	s := playback.NewScheduler(cfg, rec, m)
	rec.scheduler = s

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, rec
}

func syncScheduler(t *testing.T, s *playback.Scheduler) {
	t.Helper()
	if err := s.Sync(t.Context()); err != nil {
		t.Fatalf("Sync() returned error: %v", err)
	}
}

// Raw mono narration holding numSamples copies of value.
func monoChunk(id uuid.UUID, value int16, numSamples int) reassembly.ChunkReady {
	data := make([]byte, 0, 2*numSamples)
	for range numSamples {
		data = binary.LittleEndian.AppendUint16(data, uint16(value))
	}
	return reassembly.ChunkReady{Chunk: reassembly.Chunk{
		Channel:    protocol.ChannelNarration,
		Indicator:  protocol.IndicatorNarration,
		SequenceID: id,
		SampleRate: testRate,
		Data:       data,
	}}
}

func started(channel protocol.Channel, id uuid.UUID) reassembly.SequenceStarted {
	return reassembly.SequenceStarted{
		Channel:    channel,
		Indicator:  channel.Indicator(),
		SequenceID: id,
		SampleRate: testRate,
	}
}

func renderAll(sink *playback.ChannelSink) []float32 {
	var out []float32
	left, right := make([]float32, 256), make([]float32, 256)
	for {
		n := sink.Render(left, right)
		if n == 0 {
			return out
		}
		out = append(out, left[:n]...)
	}
}

func TestNewNarrationClearsReplayCacheBeforeItsChunks(t *testing.T) {
	s, rec := startScheduler(t, nil)
	first, second := uuid.New(), uuid.New()

	s.Post(started(protocol.ChannelNarration, first))
	s.Post(monoChunk(first, 100, 16))
	s.Post(monoChunk(first, 100, 16))
	s.Post(reassembly.SequenceFinished{Channel: protocol.ChannelNarration, SequenceID: first})
	s.Post(started(protocol.ChannelNarration, second))
	s.Post(monoChunk(second, 200, 16))
	syncScheduler(t, s)

	want := []download{
		{Channel: protocol.ChannelNarration, SequenceID: first, Downloading: true, CachedChunks: 0},
		{Channel: protocol.ChannelNarration, SequenceID: first, Downloading: false, CachedChunks: 2},
		{Channel: protocol.ChannelNarration, SequenceID: second, Downloading: true, CachedChunks: 0},
	}
	if diff := cmp.Diff(want, rec.take()); diff != "" {
		t.Errorf("downloads mismatch (-want +got):\n%s", diff)
	}

	cache := s.Sink(protocol.ChannelNarration).ReplayCache()
	if len(cache) != 1 || cache[0].SequenceID != second {
		t.Errorf("ReplayCache() = %d chunks; want the single chunk of the new sequence", len(cache))
	}
}

func TestSequenceWithoutAudioIsReported(t *testing.T) {
	s, rec := startScheduler(t, nil)
	short, long := uuid.New(), uuid.New()

	s.Post(started(protocol.ChannelNarration, short))
	s.Post(reassembly.SequenceFinished{
		Channel:        protocol.ChannelNarration,
		SequenceID:     short,
		DiscardedBytes: 4000,
	})
	s.Post(started(protocol.ChannelNarration, long))
	s.Post(monoChunk(long, 100, 16))
	s.Post(reassembly.SequenceFinished{Channel: protocol.ChannelNarration, SequenceID: long, ChunksEmitted: 1})
	syncScheduler(t, s)

	// Reported once, after the short sequence started downloading and before it stopped.
	want := []nothingQueued{{Channel: protocol.ChannelNarration, SequenceID: short, DownloadsBefore: 1}}
	if diff := cmp.Diff(want, rec.takeNothingQueued()); diff != "" {
		t.Errorf("NothingQueued mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedConversionCountsAsNothingQueued(t *testing.T) {
	s, rec := startScheduler(t, nil)
	id := uuid.New()

	s.Post(started(protocol.ChannelNarration, id))
	bad := monoChunk(id, 100, 4)
	bad.Chunk.Data = bad.Chunk.Data[:7]
	s.Post(bad)
	s.Post(reassembly.SequenceFinished{Channel: protocol.ChannelNarration, SequenceID: id, ChunksEmitted: 1})
	syncScheduler(t, s)

	if got := rec.takeNothingQueued(); len(got) != 1 || got[0].SequenceID != id {
		t.Errorf("NothingQueued = %+v; want sequence %v", got, id)
	}
}

func TestFinishedSequenceQueuesResamplerTail(t *testing.T) {
	cfg := playback.DefaultConfig()
	cfg.EngineSampleRate = 44100
	s := playback.NewScheduler(cfg, nil, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	const numChunks, chunkSamples = 4, 1024
	id := uuid.New()
	s.Post(started(protocol.ChannelNarration, id))
	for range numChunks {
		s.Post(monoChunk(id, 1000, chunkSamples))
	}
	syncScheduler(t, s)
	narration := s.Sink(protocol.ChannelNarration)
	beforeFinish := len(renderAll(narration))

	s.Post(reassembly.SequenceFinished{Channel: protocol.ChannelNarration, SequenceID: id})
	syncScheduler(t, s)
	tail := renderAll(narration)

	if len(tail) == 0 {
		t.Fatalf("no frames queued on SequenceFinished; want the resampler tail")
	}
	want := (numChunks*chunkSamples*44100 + testRate - 1) / testRate
	if got := beforeFinish + len(tail); got != want {
		t.Errorf("rendered %d + %d frames; want %d in total", beforeFinish, len(tail), want)
	}
	// The tail carries the end of the tone, not silence.
	if tail[0] == 0 {
		t.Errorf("first tail frame = 0; want the continuing signal")
	}
}

func TestReplayRequeuesCachedNarration(t *testing.T) {
	s, _ := startScheduler(t, nil)
	id := uuid.New()
	narration := s.Sink(protocol.ChannelNarration)

	// Empty cache is a no-op.
	if err := s.Replay(t.Context()); err != nil {
		t.Fatalf("Replay() returned error: %v", err)
	}
	if got := narration.Queued(); got != 0 {
		t.Fatalf("Queued() after empty replay = %d; want 0", got)
	}

	s.Post(started(protocol.ChannelNarration, id))
	s.Post(monoChunk(id, 1000, 10))
	s.Post(monoChunk(id, 2000, 10))
	syncScheduler(t, s)
	played := renderAll(narration)

	if err := s.Replay(t.Context()); err != nil {
		t.Fatalf("Replay() returned error: %v", err)
	}
	replayed := renderAll(narration)

	if len(played) != 20 {
		t.Fatalf("played %d frames; want 20", len(played))
	}
	if diff := cmp.Diff(played, replayed); diff != "" {
		t.Errorf("replayed audio mismatch (-played +replayed):\n%s", diff)
	}
	if got := len(narration.ReplayCache()); got != 2 {
		t.Errorf("len(ReplayCache()) after replay = %d; want 2", got)
	}
}

func TestVolumeAppliesToLaterChunks(t *testing.T) {
	s, _ := startScheduler(t, nil)
	id := uuid.New()
	narration := s.Sink(protocol.ChannelNarration)

	s.Post(monoChunk(id, 1000, 1))
	if err := s.SetVolume(t.Context(), 0); err != nil {
		t.Fatalf("SetVolume() returned error: %v", err)
	}
	s.Post(monoChunk(id, 1000, 1))
	syncScheduler(t, s)

	got := renderAll(narration)
	if len(got) != 2 || got[0] == 0 || got[1] != 0 {
		t.Errorf("rendered = %v; want one audible then one muted frame", got)
	}
}

func TestChunksOfUnplayedChannelsAreDropped(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s, _ := startScheduler(t, m)

	chunk := monoChunk(uuid.New(), 1, 4)
	chunk.Chunk.Channel = protocol.ChannelUnknown
	chunk.Chunk.Indicator = "ZZZ"
	s.Post(chunk)
	syncScheduler(t, s)

	for _, sink := range s.Sinks() {
		if got := sink.Queued(); got != 0 {
			t.Errorf("%v Queued() = %d; want 0", sink.Channel(), got)
		}
	}
	if got := testutil.ToFloat64(m.ChunksDropped.WithLabelValues(protocol.ChannelUnknown.String(), metrics.ReasonUnknownChannel)); got != 1 {
		t.Errorf("unknown channel drops = %v; want 1", got)
	}
}

func TestConversionFailureDropsOnlyThatChunk(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s, _ := startScheduler(t, m)
	id := uuid.New()

	bad := reassembly.ChunkReady{Chunk: reassembly.Chunk{
		Channel:    protocol.ChannelMusic,
		SequenceID: id,
		SampleRate: testRate,
		Data:       []byte{1, 2, 3, 4, 5, 6},
	}}
	good := reassembly.ChunkReady{Chunk: reassembly.Chunk{
		Channel:    protocol.ChannelMusic,
		SequenceID: id,
		SampleRate: testRate,
		Data:       make([]byte, 8),
	}}
	s.Post(bad)
	s.Post(good)
	syncScheduler(t, s)

	if got := s.Sink(protocol.ChannelMusic).Queued(); got != 1 {
		t.Errorf("Queued() = %d; want 1", got)
	}
	if got := testutil.ToFloat64(m.ConversionFailures.WithLabelValues("music")); got != 1 {
		t.Errorf("conversion failures = %v; want 1", got)
	}
}

func TestResetDropsQueuedAudioAndReportsClearedDownloads(t *testing.T) {
	s, rec := startScheduler(t, nil)
	id := uuid.New()

	s.Post(started(protocol.ChannelNarration, id))
	s.Post(monoChunk(id, 5, 32))
	s.Post(reassembly.Cleared{Sequences: []reassembly.SequenceStarted{started(protocol.ChannelNarration, id)}})

	for range 2 {
		if err := s.Reset(t.Context()); err != nil {
			t.Fatalf("Reset() returned error: %v", err)
		}
	}

	for _, sink := range s.Sinks() {
		if got := sink.Queued(); got != 0 {
			t.Errorf("%v Queued() = %d; want 0", sink.Channel(), got)
		}
	}
	if got := len(s.Sink(protocol.ChannelNarration).ReplayCache()); got != 0 {
		t.Errorf("len(ReplayCache()) = %d; want 0", got)
	}

	downloads := rec.take()
	if len(downloads) != 2 || !downloads[0].Downloading || downloads[1].Downloading {
		t.Errorf("downloads = %+v; want started then finished", downloads)
	}
}
