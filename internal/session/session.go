package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/activity"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/playback"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/reassembly"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/transport"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
)

const (
	DefaultReleaseDebounce    = time.Second
	DefaultRenderBufferFrames = 1024

	inboxSize        = 64
	signalBufferSize = 256
	updateBufferSize = 256
)

var (
	ErrStopped = errors.New("session stopped")
)

type Config struct {
	// Delay between the user releasing the talk gesture and the end of the recording.
	// Pressing again within the delay continues the same recording.
	ReleaseDebounce time.Duration

	// Expected length of one render callback buffer.
	RenderBufferFrames int

	Reassembly reassembly.Config
	Playback   playback.Config
}

func DefaultConfig() Config {
	return Config{
		ReleaseDebounce:    DefaultReleaseDebounce,
		RenderBufferFrames: DefaultRenderBufferFrames,
		Reassembly:         reassembly.DefaultConfig(),
		Playback:           playback.DefaultConfig(),
	}
}

// Session drives one client of the story server: the connection, the inbound audio pipeline,
// the outbound capture stream, and the turn state machine tying them together.
//
// Every trigger, whether a user gesture, a control message, a transport failure or an activity
// edge from the render path, is delivered as an event to the goroutine executing Run. Transitions
// and their side effects (starting or stopping capture, sending START and STOP, clearing buffers)
// are applied there one at a time, so no two triggers race.
//
//	| From                | Trigger                                  | To           |
//	|---------------------|------------------------------------------|--------------|
//	| Disconnected        | Connect                                  | Connecting   |
//	| Connecting          | transport opened                         | Idle         |
//	| Idle                | session identifier received              | Listening    |
//	| Listening/Recording | Press (start capture, send START)        | Recording    |
//	| Recording           | Release + debounce (stop capture, STOP)  | Thinking     |
//	| Listening/Thinking  | narration started or narration download  | Playing      |
//	|                     | started (music and effects never count)  |              |
//	| Playing             | narration finished                       | Listening    |
//	| Playing             | narration transfer finished with nothing | Listening    |
//	|                     | to play and no narration audio pending   |              |
//	| any                 | transport closed or failed, Disconnect   | Disconnected |
type Session struct {
	logger  *slog.Logger
	cfg     Config
	metrics *metrics.Metrics

	dialer  transport.Dialer
	capture audiodevice.CaptureDevice

	reassembler *reassembly.Reassembler
	scheduler   *playback.Scheduler
	monitor     *activity.Monitor
	mixer       *playback.Mixer

	// Requests that must not be lost. Posting blocks.
	inbox chan event
	// Notifications from the render path and the pipeline. Posting never blocks.
	signals chan event
	updates chan Update
	done    chan struct{}

	state atomic.Int32

	// --------------------------------------------------------------------------------
	// Owned by the goroutine executing Run

	// Incremented whenever the connection is torn down, so events of an older
	// connection can be recognized and ignored.
	connGen    int
	conn       transport.Conn
	connCtx    context.Context
	connCancel context.CancelFunc
	connWg     sync.WaitGroup

	capturing     bool
	forwarderDone chan struct{}

	releaseGen     int
	releasePending bool
	releaseTimer   *time.Timer

	progress int
	score    int
}

// Create a session. capture may be nil, in which case only START and STOP are sent.
func New(cfg Config, dialer transport.Dialer, capture audiodevice.CaptureDevice, m *metrics.Metrics) *Session {
	if cfg.ReleaseDebounce < 0 {
		cfg.ReleaseDebounce = 0
	}
	if cfg.RenderBufferFrames <= 0 {
		cfg.RenderBufferFrames = DefaultRenderBufferFrames
	}

	s := &Session{
		logger:  utils.ComponentLogger("session", uuid.New()),
		cfg:     cfg,
		metrics: m,
		dialer:  dialer,
		capture: capture,
		inbox:   make(chan event, inboxSize),
		signals: make(chan event, signalBufferSize),
		updates: make(chan Update, updateBufferSize),
		done:    make(chan struct{}),
	}

	s.scheduler = playback.NewScheduler(cfg.Playback, signaler{s}, m)
	s.reassembler = reassembly.NewReassembler(cfg.Reassembly, s.scheduler, m)
	s.monitor = activity.NewMonitor(signaler{s})
	s.mixer = playback.NewMixer(s.scheduler, s.monitor, cfg.RenderBufferFrames)
	return s
}

// Run the session until ctx is canceled. Must be called exactly once.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	var pipelineWg sync.WaitGroup
	defer pipelineWg.Wait()
	pipelineWg.Add(2)
	go func() {
		defer pipelineWg.Done()
		s.reassembler.Run(ctx)
	}()
	go func() {
		defer pipelineWg.Done()
		s.scheduler.Run(ctx)
	}()

	s.logger.Debug("session started")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case ev := <-s.inbox:
			s.handle(ctx, ev)
		case ev := <-s.signals:
			s.handle(ctx, ev)
		}
	}
}

// The render source to hand to the render device.
func (s *Session) Mixer() *playback.Mixer {
	return s.mixer
}

// Published updates for the UI. Updates are dropped if the channel is not drained.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Open the connection. Ignored unless Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	return s.post(ctx, connectRequest{})
}

// The user started the talk gesture.
func (s *Session) Press(ctx context.Context) error {
	return s.post(ctx, pressRequest{})
}

// The user ended the talk gesture.
func (s *Session) Release(ctx context.Context) error {
	return s.post(ctx, releaseRequest{})
}

// Tear the session down: stop capture, close the connection, discard every in-flight transfer
// and drop all queued playback. Returns once done. Safe to call in any state, any number of times.
func (s *Session) Disconnect(ctx context.Context) error {
	done := make(chan error, 1)
	if err := s.post(ctx, disconnectRequest{ctx: ctx, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play the current narration turn again without fetching it.
func (s *Session) Replay(ctx context.Context) error {
	return s.scheduler.Replay(ctx)
}

// Set the narration volume, 1.0 is natural scaling.
func (s *Session) SetVolume(ctx context.Context, volume float32) error {
	return s.scheduler.SetVolume(ctx, volume)
}

// Write the current narration turn as a .WAV.
func (s *Session) ExportReplay(w io.WriteSeeker) error {
	return s.scheduler.Sink(protocol.ChannelNarration).ExportReplay(w)
}

// Number of transfers currently being reassembled.
func (s *Session) InFlightSequences(ctx context.Context) (int, error) {
	return s.reassembler.Len(ctx)
}

// Number of converted buffers waiting for playback, over all channels.
func (s *Session) QueuedBuffers() int {
	queued := 0
	for _, sink := range s.scheduler.Sinks() {
		queued += sink.Queued()
	}
	return queued
}

func (s *Session) post(ctx context.Context, ev event) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post without blocking; the event is dropped if the session is not keeping up.
func (s *Session) signal(ev event) {
	select {
	case s.signals <- ev:
	default:
		s.logger.Warn("session signal buffer full, dropping signal", "signal", ev)
	}
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("update buffer full, dropping update", "update", u)
	}
}

func (s *Session) setState(to State) {
	from := s.State()
	if from == to {
		return
	}
	s.state.Store(int32(to))
	s.metrics.Transition(to.String())
	s.logger.Info("turn state changed", "from", from, "to", to)
	s.emit(StateChanged{From: from, To: to})
}

// --------------------------------------------------------------------------------
// Adapts the session to the notifier interfaces of the pipeline.

type signaler struct {
	s *Session
}

func (n signaler) NarrationStarted() {
	n.s.signal(narrationStarted{})
}

func (n signaler) NarrationFinished() {
	n.s.signal(narrationFinished{})
}

func (n signaler) NothingQueued(channel protocol.Channel, sequenceID uuid.UUID) {
	n.s.signal(nothingQueued{channel: channel, sequenceID: sequenceID})
}

func (n signaler) DownloadingChanged(channel protocol.Channel, sequenceID uuid.UUID, downloading bool) {
	n.s.signal(DownloadingChanged{
		Channel:     channel,
		SequenceID:  sequenceID,
		Downloading: downloading,
	})
}
