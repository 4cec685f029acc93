package device_test

import (
	"errors"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	"github.com/google/go-cmp/cmp"
)

func TestDummyCaptureDevice(t *testing.T) {
	d := device.NewDummyCaptureDevice(audiodevice.DeviceProperties{SampleRate: 16000, NumChannels: 1})

	stream, err := d.Start()
	if err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	if _, err := d.Start(); !errors.Is(err, device.ErrAlreadyStarted) {
		t.Errorf("second Start() = %v; want %v", err, device.ErrAlreadyStarted)
	}

	d.Stop()
	if _, ok := <-stream; ok {
		t.Error("stream still open after Stop()")
	}
	d.Stop()
}

func TestDummyRenderDevicePull(t *testing.T) {
	d := device.NewDummyRenderDevice(audiodevice.DeviceProperties{SampleRate: 44100, NumChannels: 2})

	if diff := cmp.Diff(frame.NewStereoFrame(2), d.Pull(2)); diff != "" {
		t.Errorf("Pull() before Start() mismatch (-want +got):\n%s", diff)
	}

	if err := d.Start(constantSource{left: 0.5, right: -0.5}); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	want := frame.StereoFrame{
		Left:  frame.PCMFrame{0.5, 0.5},
		Right: frame.PCMFrame{-0.5, -0.5},
	}
	if diff := cmp.Diff(want, d.Pull(2)); diff != "" {
		t.Errorf("Pull() mismatch (-want +got):\n%s", diff)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}
	if diff := cmp.Diff(frame.NewStereoFrame(2), d.Pull(2)); diff != "" {
		t.Errorf("Pull() after Close() mismatch (-want +got):\n%s", diff)
	}
}
