package conversion

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
	"github.com/oov/audio/resampler"
)

const (
	// Music and effects are scaled down so they never overpower the narration.
	StereoAttenuation float32 = 0.2

	// Narration is rendered louder than its source level.
	NarrationBoost float32 = 2.3

	DefaultVolume float32 = 1.0

	resampleQuality = 10
)

var (
	// A chunk could not be converted. Only that chunk is lost, the stream continues.
	ErrConversion = errors.New("audio conversion failure")
)

// Converts raw 16-bit PCM chunks into planar float stereo at the playback engine rate.
//
//   - Stereo channels (music, effects): interleaved 16-bit stereo is split into planar
//     float stereo, each sample scaled by value / 32767 * StereoAttenuation.
//   - Narration (and any mono channel): each sample is scaled by
//     value / 32767 * volume * NarrationBoost, then duplicated into identical left and right channels.
//
// Whenever the source rate differs from the engine rate the audio is resampled.
// Resampler state is kept per sequence so consecutive chunks of one transfer are continuous:
// each Convert returns only the frames the filter has produced so far, and Finish drains the
// rest once the transfer is complete. Over a whole transfer the output holds exactly
// ceil(sourceFrames * engineRate / sourceRate) frames.
//
// Call Finish when a sequence completes, or Forget to discard it.
//
// A Converter is not safe for concurrent use; it is owned by the playback scheduler.
type Converter struct {
	logger *slog.Logger

	engineSampleRate int
	volume           float32

	resamplers map[resamplerKey]*resampleState
}

type resamplerKey struct {
	sequenceID uuid.UUID
	sourceRate int
	channels   int
}

type resampleState struct {
	r *resampler.Resampler

	// Source frames consumed and engine frames produced so far.
	consumed int
	produced int
}

func NewConverter(engineSampleRate int) *Converter {
	return &Converter{
		logger:           utils.ComponentLogger("converter", uuid.New()),
		engineSampleRate: engineSampleRate,
		volume:           DefaultVolume,
		resamplers:       make(map[resamplerKey]*resampleState),
	}
}

// Set the narration volume. Must be non-negative, 1.0 is natural scaling.
func (c *Converter) SetVolume(volume float32) {
	if volume < 0.0 {
		volume = 0.0
	}
	c.volume = volume
}

func (c *Converter) GetVolume() float32 {
	return c.volume
}

func (c *Converter) EngineSampleRate() int {
	return c.engineSampleRate
}

// Convert one raw chunk of the given channel and sequence.
//
// Returns an error wrapping ErrConversion if raw is not a whole number of samples
// for the channel's layout (4 bytes per frame for stereo, 2 for mono).
func (c *Converter) Convert(
	channel protocol.Channel,
	sequenceID uuid.UUID,
	sourceSampleRate int,
	raw []byte,
) (frame.StereoFrame, error) {
	if sourceSampleRate <= 0 {
		sourceSampleRate = c.engineSampleRate
	}

	var (
		converted frame.StereoFrame
		err       error
	)
	if channel.IsStereo() {
		converted, err = decodeStereo(raw, StereoAttenuation)
	} else {
		converted, err = decodeMono(raw, c.volume*NarrationBoost)
	}
	if err != nil {
		return frame.StereoFrame{}, fmt.Errorf("%w: channel %v: %w", ErrConversion, channel, err)
	}

	if sourceSampleRate == c.engineSampleRate || converted.Len() == 0 {
		return converted, nil
	}

	if channel.IsStereo() {
		key, state := c.resampler(sequenceID, sourceSampleRate, 2)
		return c.resample(key, state, converted.Left, converted.Right), nil
	}

	// Left and right are identical, so resample once and duplicate.
	key, state := c.resampler(sequenceID, sourceSampleRate, 1)
	return c.resample(key, state, converted.Left), nil
}

// Drain the audio still held in the resampler of a completed sequence and release it.
// The returned frames follow the last chunk converted for the sequence. Empty if the
// sequence was never resampled.
func (c *Converter) Finish(sequenceID uuid.UUID) frame.StereoFrame {
	var tail frame.StereoFrame
	for key, state := range c.resamplers {
		if key.sequenceID != sequenceID {
			continue
		}
		delete(c.resamplers, key)

		missing := ResampledLength(state.consumed, key.sourceRate, c.engineSampleRate) - state.produced
		if missing <= 0 {
			continue
		}
		// Enough silence to push every buffered frame through the filter.
		silence := make(frame.PCMFrame, ResampledLength(missing, c.engineSampleRate, key.sourceRate)+state.r.InputLatency()+1)
		drained := drain(state.r, key.channels, silence, missing)
		tail.Left = append(tail.Left, drained.Left...)
		tail.Right = append(tail.Right, drained.Right...)

		c.logger.Debug(
			"drained resampler",
			"sequenceID", sequenceID,
			"frames", missing,
		)
	}
	return tail
}

// Release the resampler state held for a sequence.
func (c *Converter) Forget(sequenceID uuid.UUID) {
	for key := range c.resamplers {
		if key.sequenceID == sequenceID {
			delete(c.resamplers, key)
		}
	}
}

// Release every resampler.
func (c *Converter) Reset() {
	clear(c.resamplers)
}

func (c *Converter) resampler(sequenceID uuid.UUID, sourceRate int, channels int) (resamplerKey, *resampleState) {
	key := resamplerKey{sequenceID: sequenceID, sourceRate: sourceRate, channels: channels}
	state, ok := c.resamplers[key]
	if !ok {
		c.logger.Debug(
			"adding resampler",
			"sequenceID", sequenceID,
			"sourceRate", sourceRate,
			"engineRate", c.engineSampleRate,
			"channels", channels,
		)
		state = &resampleState{
			r: resampler.NewWithSkipZeros(channels, sourceRate, c.engineSampleRate, resampleQuality),
		}
		c.resamplers[key] = state
	}
	return key, state
}

// Resample one chunk of planar audio. One source channel is duplicated into both outputs.
// Only the frames the filter produced are returned, so the output is continuous across chunks.
func (c *Converter) resample(key resamplerKey, state *resampleState, source ...frame.PCMFrame) frame.StereoFrame {
	// Rounding carried over from earlier chunks adds at most a frame or two.
	size := ResampledLength(len(source[0]), key.sourceRate, c.engineSampleRate) + 2
	outs := make([]frame.PCMFrame, len(source))
	written := size
	for i, channel := range source {
		outs[i] = make(frame.PCMFrame, size)
		read, n := state.r.ProcessFloat32(i, channel, outs[i])
		if read != len(channel) {
			c.logger.Warn(
				"resampler did not consume the whole chunk",
				"sequenceID", key.sequenceID,
				"read", read,
				"frames", len(channel),
			)
		}
		if i == 0 {
			state.consumed += read
		}
		written = min(written, n)
	}
	state.produced += written
	return stereo(outs, written)
}

// --------------------------------------------------------------------------------

// Number of frames produced when resampling sourceFrames from sourceRate to destRate.
func ResampledLength(sourceFrames int, sourceRate int, destRate int) int {
	if sourceRate <= 0 {
		return sourceFrames
	}
	return (sourceFrames*destRate + sourceRate - 1) / sourceRate
}

// Push silence through every channel of r until want frames come out. Frames the filter
// could not produce are left silent.
func drain(r *resampler.Resampler, channels int, silence frame.PCMFrame, want int) frame.StereoFrame {
	outs := make([]frame.PCMFrame, channels)
	for i := range outs {
		outs[i] = make(frame.PCMFrame, want)
		r.ProcessFloat32(i, silence, outs[i])
	}
	return stereo(outs, want)
}

func stereo(outs []frame.PCMFrame, n int) frame.StereoFrame {
	left := outs[0][:n]
	if len(outs) > 1 {
		return frame.StereoFrame{Left: left, Right: outs[1][:n]}
	}
	right := make(frame.PCMFrame, n)
	copy(right, left)
	return frame.StereoFrame{Left: left, Right: right}
}

func decodeMono(raw []byte, gain float32) (frame.StereoFrame, error) {
	if len(raw)%encoderdecoder.BytesPerSample != 0 {
		return frame.StereoFrame{}, fmt.Errorf("%w: %d bytes of mono audio", encoderdecoder.ErrPartialSample, len(raw))
	}

	numFrames := len(raw) / encoderdecoder.BytesPerSample
	converted := frame.NewStereoFrame(numFrames)
	encoderdecoder.DecodePCM16Into(converted.Left, raw)
	for i := range converted.Left {
		converted.Left[i] *= gain
		converted.Right[i] = converted.Left[i]
	}
	return converted, nil
}

func decodeStereo(raw []byte, gain float32) (frame.StereoFrame, error) {
	const bytesPerFrame = 2 * encoderdecoder.BytesPerSample
	if len(raw)%bytesPerFrame != 0 {
		return frame.StereoFrame{}, fmt.Errorf("%w: %d bytes of stereo audio", encoderdecoder.ErrPartialSample, len(raw))
	}

	const maxInt16 = float32(32767)
	numFrames := len(raw) / bytesPerFrame
	converted := frame.NewStereoFrame(numFrames)
	// Decode to planar, raw is interleaved
	for i := range numFrames {
		converted.Left[i] = float32(encoderdecoder.SampleAt(raw, 2*i)) / maxInt16 * gain
		converted.Right[i] = float32(encoderdecoder.SampleAt(raw, 2*i+1)) / maxInt16 * gain
	}
	return converted, nil
}
