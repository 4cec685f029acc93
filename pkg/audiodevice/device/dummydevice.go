package device

import (
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
)

// A CaptureDevice that will never produce a frame.
//
// A minimal example of the architecture of a CaptureDevice, useful in testing and when
// no microphone source is configured.
type DummyCaptureDevice struct {
	properties audiodevice.DeviceProperties

	mu         sync.Mutex
	sinkStream chan frame.EncodedFrame
}

func NewDummyCaptureDevice(properties audiodevice.DeviceProperties) *DummyCaptureDevice {
	return &DummyCaptureDevice{
		properties: properties,
	}
}

func (d *DummyCaptureDevice) Start() (<-chan frame.EncodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sinkStream != nil {
		return nil, ErrAlreadyStarted
	}
	d.sinkStream = make(chan frame.EncodedFrame)
	return d.sinkStream, nil
}

func (d *DummyCaptureDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sinkStream != nil {
		close(d.sinkStream)
		d.sinkStream = nil
	}
}

func (d *DummyCaptureDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// A RenderDevice with no clock of its own: audio is only pulled from the source
// when Pull is called.
//
// A minimal example of the architecture of a RenderDevice, useful in testing.
type DummyRenderDevice struct {
	properties audiodevice.DeviceProperties

	mu     sync.Mutex
	source audiodevice.RenderSource
	closed bool
}

func NewDummyRenderDevice(properties audiodevice.DeviceProperties) *DummyRenderDevice {
	return &DummyRenderDevice{
		properties: properties,
	}
}

func (d *DummyRenderDevice) Start(source audiodevice.RenderSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	if d.source != nil {
		return ErrAlreadyStarted
	}
	d.source = source
	return nil
}

// Render one buffer of numFrames sample frames, as a hardware callback would.
// Returns silence if the device is not started or already closed.
func (d *DummyRenderDevice) Pull(numFrames int) frame.StereoFrame {
	out := frame.NewStereoFrame(numFrames)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source != nil && !d.closed {
		d.source.Render(out.Left, out.Right)
	}
	return out
}

func (d *DummyRenderDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DummyRenderDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
