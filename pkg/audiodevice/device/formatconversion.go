package device

import (
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	"github.com/oov/audio/resampler"
)

const resampleQuality = 10

// Converts interleaved audio in one format to another.
// Conversion functions may return the memory of sourceFrame.
type formatConversionFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

// Build the conversion chain taking audio with sourceProperties to mono audio at sinkSampleRate,
// the format of the outbound capture stream.
func newCaptureConversion(sourceProperties audiodevice.DeviceProperties, sinkSampleRate int) []formatConversionFunction {
	formatConversionFunctions := make([]formatConversionFunction, 0)

	if sourceProperties.NumChannels > 1 {
		slog.Debug("adding downmix to mono", "channels", sourceProperties.NumChannels)
		formatConversionFunctions = append(formatConversionFunctions, downmixToMono(sourceProperties.NumChannels))
	}
	if sourceProperties.SampleRate != sinkSampleRate {
		slog.Debug("adding resampler", "from", sourceProperties.SampleRate, "to", sinkSampleRate)
		formatConversionFunctions = append(formatConversionFunctions, newResampleFunction(sourceProperties.SampleRate, sinkSampleRate))
	}
	return formatConversionFunctions
}

func convertFormat(pcm frame.PCMFrame, formatConversionFunctions []formatConversionFunction) frame.PCMFrame {
	for _, f := range formatConversionFunctions {
		pcm = f(pcm)
	}
	return pcm
}

// Average every group of numChannels interleaved samples. A trailing partial group is dropped.
func downmixToMono(numChannels int) formatConversionFunction {
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		n := len(sourceFrame) / numChannels
		buf := make(frame.PCMFrame, n)
		for i := range n {
			var sum float32
			for c := range numChannels {
				sum += sourceFrame[numChannels*i+c]
			}
			buf[i] = sum / float32(numChannels)
		}
		return buf
	}
}

func newResampleFunction(sourceSampleRate int, sinkSampleRate int) formatConversionFunction {
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		r := resampler.New(1, sourceSampleRate, sinkSampleRate, resampleQuality)
		buf := make(frame.PCMFrame, len(sourceFrame)*sinkSampleRate/sourceSampleRate+1)
		_, written := r.ProcessFloat32(0, sourceFrame, buf)
		return buf[:written]
	}
}
