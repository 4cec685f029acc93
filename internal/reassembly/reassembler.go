package reassembly

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
)

const (
	// Emission for a sequence begins once this many payload bytes were received for it.
	DefaultEmitThreshold = 32 * 1024

	// Size of every emitted chunk.
	DefaultChunkSize = 2048

	defaultInboxSize = 256
)

var (
	ErrStopped = errors.New("reassembler stopped")
)

type Config struct {
	EmitThreshold int
	ChunkSize     int

	// Emit the buffered bytes of a sequence when it completes, including the trailing
	// sub-chunk remainder and any bytes still held back by the threshold.
	// When false (the default) those bytes are discarded.
	FlushRemainder bool

	InboxSize int
}

func DefaultConfig() Config {
	return Config{
		EmitThreshold: DefaultEmitThreshold,
		ChunkSize:     DefaultChunkSize,
		InboxSize:     defaultInboxSize,
	}
}

// One logical transfer being accumulated.
type sequence struct {
	channel    protocol.Channel
	indicator  string
	sampleRate int

	accumulatedData []byte
	bytesReceived   int
	packetsReceived uint32
	chunksEmitted   int
	emitting        bool
}

type frameRequest struct {
	data []byte
}

type resetRequest struct {
	done chan struct{}
}

type lenRequest struct {
	reply chan int
}

// Reassembles multi-packet transfers from interleaved frames of many channels.
//
// All sequence state is owned by the goroutine executing Run; Submit, Reset and Len only
// post requests to it. For each frame, in arrival order:
//  1. Frames with an incomplete header are dropped.
//  2. The first packet of an unknown sequence id creates the sequence and posts SequenceStarted.
//  3. The payload is appended. Once EmitThreshold bytes were received for the sequence, every
//     whole ChunkSize chunk at the front of its buffer is posted as ChunkReady.
//  4. When packetsReceived reaches totalPackets the sequence is removed and SequenceFinished posted.
//
// Filler chunks are counted and dropped here; they never reach the downstream.
type Reassembler struct {
	logger  *slog.Logger
	cfg     Config
	metrics *metrics.Metrics

	downstream Downstream
	inbox      chan any
	done       chan struct{}

	sequences map[uuid.UUID]*sequence
}

func NewReassembler(cfg Config, downstream Downstream, m *metrics.Metrics) *Reassembler {
	if cfg.EmitThreshold < 0 {
		cfg.EmitThreshold = 0
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}

	return &Reassembler{
		logger:     utils.ComponentLogger("reassembler", uuid.New()),
		cfg:        cfg,
		metrics:    m,
		downstream: downstream,
		inbox:      make(chan any, cfg.InboxSize),
		done:       make(chan struct{}),
		sequences:  make(map[uuid.UUID]*sequence),
	}
}

// Process requests until ctx is canceled.
// Run must be called exactly once; afterwards every request fails with ErrStopped.
func (r *Reassembler) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.inbox:
			switch req := req.(type) {
			case frameRequest:
				r.handleFrame(req.data)
			case resetRequest:
				r.clear()
				close(req.done)
			case lenRequest:
				req.reply <- len(r.sequences)
			}
		}
	}
}

// Post a received frame for reassembly. The frame must not be modified afterwards.
// Blocks while the inbox is full.
func (r *Reassembler) Submit(ctx context.Context, frame []byte) error {
	return r.post(ctx, frameRequest{data: frame})
}

// Discard every in-flight sequence. Returns once every frame submitted before the call
// has been processed and the collection is empty.
func (r *Reassembler) Reset(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.post(ctx, resetRequest{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Number of sequences currently in flight.
func (r *Reassembler) Len(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := r.post(ctx, lenRequest{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-r.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Reassembler) post(ctx context.Context, req any) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.inbox <- req:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------------

func (r *Reassembler) handleFrame(data []byte) {
	r.metrics.FrameReceived()

	frame, err := protocol.ParseFrame(data)
	if err != nil {
		r.metrics.FrameDropped()
		r.logger.Debug("dropping frame", "err", err, "frameSize", len(data))
		return
	}
	header := frame.Header

	seq, ok := r.sequences[header.SequenceID]
	if !ok {
		seq = &sequence{
			channel:    protocol.ChannelFromIndicator(header.Indicator),
			indicator:  header.Indicator,
			sampleRate: int(header.SampleRate),
		}
		r.sequences[header.SequenceID] = seq
		r.metrics.SequenceStarted(seq.channel.String())
		r.logger.Debug(
			"sequence started",
			"sequenceID", header.SequenceID,
			"indicator", header.Indicator,
			"totalPackets", header.TotalPackets,
			"sampleRate", header.SampleRate,
		)
		r.downstream.Post(SequenceStarted{
			Channel:    seq.channel,
			Indicator:  seq.indicator,
			SequenceID: header.SequenceID,
			SampleRate: seq.sampleRate,
		})
	}

	seq.accumulatedData = append(seq.accumulatedData, frame.Payload...)
	seq.bytesReceived += len(frame.Payload)
	seq.packetsReceived++

	if !seq.emitting && seq.bytesReceived >= r.cfg.EmitThreshold {
		seq.emitting = true
	}
	if seq.emitting {
		r.emitChunks(header.SequenceID, seq)
	}

	if seq.packetsReceived >= header.TotalPackets {
		r.finish(header.SequenceID, seq)
	}
}

// Post every whole chunk at the front of the buffer.
func (r *Reassembler) emitChunks(sequenceID uuid.UUID, seq *sequence) {
	chunkSize := r.cfg.ChunkSize
	offset := 0
	for len(seq.accumulatedData)-offset >= chunkSize {
		r.emit(sequenceID, seq, seq.accumulatedData[offset:offset+chunkSize])
		offset += chunkSize
	}
	if offset > 0 {
		seq.accumulatedData = append(seq.accumulatedData[:0], seq.accumulatedData[offset:]...)
	}
}

func (r *Reassembler) emit(sequenceID uuid.UUID, seq *sequence, data []byte) {
	if seq.channel == protocol.ChannelFiller {
		r.metrics.ChunkDropped(seq.channel.String(), metrics.ReasonFiller)
		return
	}

	chunk := Chunk{
		Channel:    seq.channel,
		Indicator:  seq.indicator,
		SequenceID: sequenceID,
		SampleRate: seq.sampleRate,
		Data:       append([]byte(nil), data...),
	}
	seq.chunksEmitted++
	r.metrics.ChunkEmitted(seq.channel.String())
	r.downstream.Post(ChunkReady{Chunk: chunk})
}

func (r *Reassembler) finish(sequenceID uuid.UUID, seq *sequence) {
	if r.cfg.FlushRemainder {
		if !seq.emitting {
			r.emitChunks(sequenceID, seq)
		}
		if len(seq.accumulatedData) > 0 {
			r.emit(sequenceID, seq, seq.accumulatedData)
			seq.accumulatedData = seq.accumulatedData[:0]
		}
	}

	discarded := len(seq.accumulatedData)
	delete(r.sequences, sequenceID)
	r.metrics.SequenceFinished(seq.channel.String(), discarded)
	r.logger.Debug(
		"sequence finished",
		"sequenceID", sequenceID,
		"indicator", seq.indicator,
		"packetsReceived", seq.packetsReceived,
		"bytesReceived", seq.bytesReceived,
		"chunksEmitted", seq.chunksEmitted,
		"discardedBytes", discarded,
	)
	r.downstream.Post(SequenceFinished{
		Channel:        seq.channel,
		Indicator:      seq.indicator,
		SequenceID:     sequenceID,
		ChunksEmitted:  seq.chunksEmitted,
		DiscardedBytes: discarded,
	})
}

func (r *Reassembler) clear() {
	if len(r.sequences) == 0 {
		return
	}

	cleared := make([]SequenceStarted, 0, len(r.sequences))
	for id, seq := range r.sequences {
		cleared = append(cleared, SequenceStarted{
			Channel:    seq.channel,
			Indicator:  seq.indicator,
			SequenceID: id,
			SampleRate: seq.sampleRate,
		})
	}
	clear(r.sequences)
	r.metrics.SequencesCleared()
	r.logger.Debug("cleared in-flight sequences", "count", len(cleared))
	r.downstream.Post(Cleared{Sequences: cleared})
}
