package reassembly

import (
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
)

// Output of the Reassembler, delivered in the order frames arrived.
// One of SequenceStarted, ChunkReady, SequenceFinished, Cleared.
type Event interface {
	reassemblyEvent()
}

// First packet of a new transfer was received. The channel is now downloading.
//
// For the narration channel this is delivered strictly before any chunk of the sequence,
// so a consumer may use it to discard the previous turn of speech.
type SequenceStarted struct {
	Channel    protocol.Channel
	Indicator  string
	SequenceID uuid.UUID
	SampleRate int
}

// A fixed-size chunk of raw 16-bit PCM ready for conversion.
type ChunkReady struct {
	Chunk Chunk
}

type Chunk struct {
	Channel    protocol.Channel
	Indicator  string
	SequenceID uuid.UUID
	SampleRate int

	// Owned by the receiver, never reused by the Reassembler.
	Data []byte
}

// Every packet of the transfer was received and the sequence was removed.
type SequenceFinished struct {
	Channel    protocol.Channel
	Indicator  string
	SequenceID uuid.UUID

	// Chunks delivered for the transfer. Zero for a transfer shorter than the emit threshold
	// when the remainder is not flushed.
	ChunksEmitted int

	// Trailing bytes below one chunk that were dropped rather than emitted.
	DiscardedBytes int
}

// Every in-flight sequence was discarded by Reset.
type Cleared struct {
	// Sequences that were in flight. No SequenceFinished will follow for them.
	Sequences []SequenceStarted
}

func (SequenceStarted) reassemblyEvent()  {}
func (ChunkReady) reassemblyEvent()       {}
func (SequenceFinished) reassemblyEvent() {}
func (Cleared) reassemblyEvent()          {}

// Receives the Reassembler's events in order.
//
// Post is called from the Reassembler's goroutine; implementations should hand the event off
// (e.g. onto a channel) rather than doing work inline.
type Downstream interface {
	Post(event Event)
}
