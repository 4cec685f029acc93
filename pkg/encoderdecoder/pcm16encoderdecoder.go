package encoderdecoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
)

const (
	BytesPerSample = 2

	maxInt16 = float32(math.MaxInt16)
)

// Signed 16-bit little-endian PCM, the sample format of every audio payload on the wire
// and of the outbound capture stream.
//
// Samples are scaled by 1/32767 on decode, and clipped to [-1, 1] before scaling on encode.
type PCM16EncoderDecoder struct{}

func (encdec PCM16EncoderDecoder) Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error) {
	return AppendPCM16(make(frame.EncodedFrame, 0, BytesPerSample*len(pcmData)), pcmData), nil
}

func (encdec PCM16EncoderDecoder) Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error) {
	if len(encodedData)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPartialSample, len(encodedData))
	}
	pcm := make(frame.PCMFrame, len(encodedData)/BytesPerSample)
	DecodePCM16Into(pcm, encodedData)
	return pcm, nil
}

// Append the 16-bit encoding of pcmData to dst.
func AppendPCM16(dst []byte, pcmData frame.PCMFrame) []byte {
	for _, sample := range pcmData {
		sample = max(-1, min(sample, 1))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(sample*maxInt16)))
	}
	return dst
}

// Decode len(dst) samples from src into dst without allocating.
// src must hold at least BytesPerSample*len(dst) bytes.
func DecodePCM16Into(dst frame.PCMFrame, src []byte) {
	for i := range dst {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(src[BytesPerSample*i:]))) / maxInt16
	}
}

// Read the raw 16-bit value of sample i.
func SampleAt(src []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(src[BytesPerSample*i:]))
}
