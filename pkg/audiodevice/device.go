package audiodevice

import "github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// Interface for capture devices, e.g. microphones
//
// A capture device produces fixed-size frames of 16-bit little-endian PCM at its
// hardware cadence. The capture side must never block on a slow consumer: frames that
// cannot be handed off are dropped by the device.
type CaptureDevice interface {
	// Start capturing.
	//
	// Encoded frames arrive on the returned channel until Stop is called,
	// after which the channel is closed.
	Start() (<-chan frame.EncodedFrame, error)

	// Stop capturing and close the stream returned by Start.
	// Calling Stop on a device that is not capturing does nothing.
	Stop()

	GetDeviceProperties() DeviceProperties
}

// Produces the audio played by a render device.
//
// Render is called from the render device's callback at its natural cadence and must fill
// left and right (planar float PCM of equal length) without blocking.
type RenderSource interface {
	Render(left []float32, right []float32)
}

// Interface for render devices, e.g. speakers
//
// Render devices pull audio from their RenderSource until closed.
type RenderDevice interface {
	// Start pulling audio from source.
	Start(source RenderSource) error

	// Stop rendering and release the device.
	// It is assumed that once closed, the device will not call its source again.
	Close() error

	GetDeviceProperties() DeviceProperties
}
