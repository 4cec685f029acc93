package encoderdecoder

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
)

var (
	// The encoded data does not hold a whole number of samples.
	ErrPartialSample = errors.New("encoded data is not a whole number of samples")
)

// Audio encoder/decoder interface.
// Used to encode raw PCM Frames to an encoded frame,
// and decode those frames back to PCM frames
type EncoderDecoder interface {
	Encode(pcmData frame.PCMFrame) (frame.EncodedFrame, error)
	Decode(encodedData frame.EncodedFrame) (frame.PCMFrame, error)
}
