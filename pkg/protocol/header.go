package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Wire layout of the fixed frame header. All integers are big-endian.
//
//	[Indicator:5][PacketSize:4][SequenceID:16][PacketIndex:4][TotalPackets:4][SampleRate:4]
const (
	IndicatorSize = 5
	HeaderSize    = 37

	offsetPacketSize   = 5
	offsetSequenceID   = 9
	offsetPacketIndex  = 25
	offsetTotalPackets = 29
	offsetSampleRate   = 33
)

var (
	// A frame shorter than HeaderSize carries no usable payload.
	ErrIncompleteHeader = errors.New("incomplete frame header")
)

// Header of one packet of a multi-packet audio transfer.
type Header struct {
	// Channel tag, trimmed of its trailing space padding.
	Indicator string

	PacketSize uint32

	// Uniquely identifies one logical transfer.
	SequenceID uuid.UUID

	// 1-based position of this packet within the transfer.
	PacketIndex  uint32
	TotalPackets uint32

	// Source sample rate of the payload in Hz.
	SampleRate uint32
}

// A parsed frame. Payload aliases the buffer given to ParseFrame.
type Frame struct {
	Header  Header
	Payload []byte
}

// Decode the fixed header at the start of data.
//
// Returns ErrIncompleteHeader if fewer than HeaderSize bytes are available.
// No other validation is performed: unknown indicators pass through as opaque tags.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrIncompleteHeader, HeaderSize, len(data))
	}

	var sequenceID uuid.UUID
	copy(sequenceID[:], data[offsetSequenceID:offsetPacketIndex])

	return Header{
		Indicator:    strings.TrimRightFunc(string(data[:IndicatorSize]), unicode.IsSpace),
		PacketSize:   binary.BigEndian.Uint32(data[offsetPacketSize:offsetSequenceID]),
		SequenceID:   sequenceID,
		PacketIndex:  binary.BigEndian.Uint32(data[offsetPacketIndex:offsetTotalPackets]),
		TotalPackets: binary.BigEndian.Uint32(data[offsetTotalPackets:offsetSampleRate]),
		SampleRate:   binary.BigEndian.Uint32(data[offsetSampleRate:HeaderSize]),
	}, nil
}

// Decode a header and split off the payload (every byte after the header).
func ParseFrame(data []byte) (Frame, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Header:  header,
		Payload: data[HeaderSize:],
	}, nil
}

// Append the wire encoding of the header to b.
//
// The indicator is space-padded to IndicatorSize bytes; longer indicators are truncated.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	var indicator [IndicatorSize]byte
	for i := range indicator {
		indicator[i] = ' '
	}
	copy(indicator[:], h.Indicator)

	b = append(b, indicator[:]...)
	b = binary.BigEndian.AppendUint32(b, h.PacketSize)
	b = append(b, h.SequenceID[:]...)
	b = binary.BigEndian.AppendUint32(b, h.PacketIndex)
	b = binary.BigEndian.AppendUint32(b, h.TotalPackets)
	b = binary.BigEndian.AppendUint32(b, h.SampleRate)
	return b, nil
}

func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// Encode a complete frame. PacketSize is written as given, it is not derived from payload.
func EncodeFrame(h Header, payload []byte) []byte {
	b, _ := h.AppendBinary(make([]byte, 0, HeaderSize+len(payload)))
	return append(b, payload...)
}

func (h Header) String() string {
	return fmt.Sprintf("Header{Indicator:%q, PacketSize:%d, SequenceID:%s, Packet:%d/%d, SampleRate:%d}",
		h.Indicator, h.PacketSize, h.SequenceID, h.PacketIndex, h.TotalPackets, h.SampleRate)
}
