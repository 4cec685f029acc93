package frame

// Interleaved float32 samples in the range [-1, 1].
//
// For multi-channel audio the samples are interleaved, i.e. a stereo
// PCMFrame is [L0, R0, L1, R1, ...].
type PCMFrame []float32

// Planar stereo audio, as scheduled on the playback engine.
//
// Left and Right always have the same length, which is the number of
// sample frames held by the StereoFrame.
type StereoFrame struct {
	Left  PCMFrame
	Right PCMFrame
}

// Allocate a silent StereoFrame holding numFrames sample frames.
func NewStereoFrame(numFrames int) StereoFrame {
	return StereoFrame{
		Left:  make(PCMFrame, numFrames),
		Right: make(PCMFrame, numFrames),
	}
}

// Number of sample frames (samples per channel).
func (f StereoFrame) Len() int {
	return min(len(f.Left), len(f.Right))
}

// Interleave the planar channels into a newly allocated PCMFrame.
func (f StereoFrame) Interleave() PCMFrame {
	n := f.Len()
	out := make(PCMFrame, 2*n)
	for i := range n {
		out[2*i] = f.Left[i]
		out[2*i+1] = f.Right[i]
	}
	return out
}

// Raw bytes of an encoded frame, e.g. 16-bit little-endian PCM as carried on the wire.
type EncodedFrame []byte
