package playback

import (
	"errors"
	"fmt"
	"io"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/encoderdecoder"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrEmptyReplayCache = errors.New("replay cache is empty")
)

// Write the replay cache as a 16-bit mono .WAV at the source sample rate of the cached narration.
// The audio is written as received, before volume scaling and resampling.
func (s *ChannelSink) ExportReplay(w io.WriteSeeker) error {
	chunks := s.ReplayCache()
	if len(chunks) == 0 {
		return ErrEmptyReplayCache
	}

	sampleRate := chunks[0].SampleRate
	encoder := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	bufFormat := &goaudio.Format{
		SampleRate:  sampleRate,
		NumChannels: 1,
	}

	for _, chunk := range chunks {
		numSamples := len(chunk.Data) / encoderdecoder.BytesPerSample
		buf := &goaudio.IntBuffer{
			Format:         bufFormat,
			Data:           make([]int, numSamples),
			SourceBitDepth: 16,
		}
		for i := range numSamples {
			buf.Data[i] = int(encoderdecoder.SampleAt(chunk.Data, i))
		}
		if err := encoder.Write(buf); err != nil {
			return fmt.Errorf("error while writing replay chunk: %w", err)
		}
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("error while finalizing replay file: %w", err)
	}
	s.logger.Debug("exported replay cache", "chunks", len(chunks), "sampleRate", sampleRate)
	return nil
}
