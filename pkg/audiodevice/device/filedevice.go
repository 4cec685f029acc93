package device

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const (
	// Frames buffered between the capture ticker and the consumer before frames are dropped.
	captureBufferFrames = 16

	renderBitDepth    = 16
	renderNumChannels = 2
	wavPCMFormat      = 1
)

var (
	ErrAlreadyStarted = errors.New("device already started")
	ErrDeviceClosed   = errors.New("device closed")
)

// --------------------------------------------------------------------------------
// WAVCaptureDevice

// A CaptureDevice that plays a .WAV file in a loop, standing in for a microphone.
//
// The file is converted once, on creation, to mono at the requested sample rate.
// While capturing, one fixed-size frame of 16-bit little-endian PCM is produced every
// frameDuration. Frames the consumer is not ready for are dropped.
type WAVCaptureDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	samples         frame.PCMFrame
	encoder         encoderdecoder.EncoderDecoder
	properties      audiodevice.DeviceProperties
	frameDuration   time.Duration
	samplesPerFrame int

	mu       sync.Mutex
	stop     chan struct{}
	finished chan struct{}
	// Read position into samples, kept across Start and Stop.
	position int
}

// Load the .WAV file at audioFilePath as a capture source producing sampleRate mono audio
// in frames of frameDuration.
func NewWAVCaptureDevice(
	audioFilePath string,
	sampleRate int,
	frameDuration time.Duration,
) (*WAVCaptureDevice, error) {
	uuid := uuid.New()
	logger := utils.ComponentLogger("capture", uuid)

	samplesPerFrame := int(float64(sampleRate) * float64(frameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 {
		logger.Error(
			"non-positive samples per frame",
			"sampleRate", sampleRate,
			"frameDuration", frameDuration,
		)
		return nil, errors.New("non-positive samples per frame")
	}

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, errors.New("error while decoding audio file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error(
			"could not get full PCM buffer from audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	sourceProperties := audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}
	samples := convertFormat(
		intBufferToPCM(buf, int(decoder.BitDepth)),
		newCaptureConversion(sourceProperties, sampleRate),
	)
	if len(samples) == 0 {
		return nil, fmt.Errorf("audio file %s holds no samples", audioFilePath)
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sourceSampleRate", sourceProperties.SampleRate,
		"sourceChannels", sourceProperties.NumChannels,
		"sampleRate", sampleRate,
		"samplesPerFrame", samplesPerFrame,
	)

	return &WAVCaptureDevice{
		logger:  logger,
		uuid:    uuid,
		samples: samples,
		encoder: encoderdecoder.PCM16EncoderDecoder{},
		properties: audiodevice.DeviceProperties{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		frameDuration:   frameDuration,
		samplesPerFrame: samplesPerFrame,
	}, nil
}

func (d *WAVCaptureDevice) Start() (<-chan frame.EncodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, ErrAlreadyStarted
	}

	stream := make(chan frame.EncodedFrame, captureBufferFrames)
	d.stop = make(chan struct{})
	d.finished = make(chan struct{})
	go d.capture(stream, d.stop, d.finished)

	d.logger.Debug("capture started")
	return stream, nil
}

func (d *WAVCaptureDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.finished
	d.stop, d.finished = nil, nil
	d.logger.Debug("capture stopped")
}

func (d *WAVCaptureDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *WAVCaptureDevice) capture(stream chan<- frame.EncodedFrame, stop <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)
	defer close(stream)

	pcm := make(frame.PCMFrame, d.samplesPerFrame)
	ticker := time.NewTicker(d.frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		for i := range pcm {
			pcm[i] = d.samples[d.position]
			d.position = (d.position + 1) % len(d.samples)
		}
		encoded, err := d.encoder.Encode(pcm)
		if err != nil {
			d.logger.Error("could not encode capture frame", "err", err)
			continue
		}

		select {
		case stream <- encoded:
		default:
			d.logger.Debug("capture consumer not ready, dropping frame")
		}
	}
}

func intBufferToPCM(buf *goaudio.IntBuffer, bitDepth int) frame.PCMFrame {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1)<<(bitDepth-1) - 1)
	pcm := make(frame.PCMFrame, len(buf.Data))
	for i, v := range buf.Data {
		pcm[i] = float32(v) / scale
	}
	return pcm
}

// --------------------------------------------------------------------------------
// WAVRenderDevice

// A RenderDevice that pulls stereo audio from its source at real-time cadence and records it
// to a 16-bit .WAV file. The file is only valid once the device is closed.
type WAVRenderDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	encoder    *wav.Encoder
	fileHandle *os.File
	properties audiodevice.DeviceProperties

	period      time.Duration
	left, right []float32
	buf         *goaudio.IntBuffer

	mu        sync.Mutex
	started   bool
	closed    bool
	stop      chan struct{}
	finished  chan struct{}
	renderErr error
}

// Create a render device writing sampleRate stereo audio to audioFilePath,
// pulling bufferFrames sample frames per callback.
func NewWAVRenderDevice(
	audioFilePath string,
	sampleRate int,
	bufferFrames int,
) (*WAVRenderDevice, error) {
	uuid := uuid.New()
	logger := utils.ComponentLogger("render", uuid)

	if sampleRate <= 0 || bufferFrames <= 0 {
		return nil, fmt.Errorf("invalid render format: sampleRate=%d bufferFrames=%d", sampleRate, bufferFrames)
	}

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not create audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, sampleRate, renderBitDepth, renderNumChannels, wavPCMFormat)

	logger.Debug(
		"created audio file",
		"audioFile", audioFilePath,
		"sampleRate", sampleRate,
		"bufferFrames", bufferFrames,
	)

	return &WAVRenderDevice{
		logger:     logger,
		uuid:       uuid,
		encoder:    encoder,
		fileHandle: f,
		properties: audiodevice.DeviceProperties{
			SampleRate:  sampleRate,
			NumChannels: renderNumChannels,
		},
		period: time.Duration(bufferFrames) * time.Second / time.Duration(sampleRate),
		left:   make([]float32, bufferFrames),
		right:  make([]float32, bufferFrames),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				SampleRate:  sampleRate,
				NumChannels: renderNumChannels,
			},
			Data:           make([]int, renderNumChannels*bufferFrames),
			SourceBitDepth: renderBitDepth,
		},
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

func (d *WAVRenderDevice) Start(source audiodevice.RenderSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	go d.render(source)
	d.logger.Debug("render started", "period", d.period)
	return nil
}

// Stop rendering and finalize the .WAV file. Calling Close again does nothing.
func (d *WAVRenderDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	close(d.stop)
	if d.started {
		<-d.finished
	}

	err := errors.Join(
		d.renderErr,
		d.encoder.Close(),
		d.fileHandle.Close(),
	)
	d.logger.Debug("render device closed", "err", err)
	return err
}

func (d *WAVRenderDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *WAVRenderDevice) render(source audiodevice.RenderSource) {
	defer close(d.finished)

	const maxInt16 = float32(1<<15 - 1)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		source.Render(d.left, d.right)
		for i := range d.left {
			d.buf.Data[2*i] = int(max(-1, min(d.left[i], 1)) * maxInt16)
			d.buf.Data[2*i+1] = int(max(-1, min(d.right[i], 1)) * maxInt16)
		}
		if err := d.encoder.Write(d.buf); err != nil {
			d.logger.Error("error while writing render buffer to file", "err", err)
			d.renderErr = err
			return
		}
	}
}
