package encoderdecoder_test

import (
	"errors"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/frame"
	"github.com/google/go-cmp/cmp"
)

func TestPCM16Encode(t *testing.T) {
	tc := []struct {
		name string
		pcm  frame.PCMFrame
		want frame.EncodedFrame
	}{
		{name: "silence", pcm: frame.PCMFrame{0}, want: frame.EncodedFrame{0x00, 0x00}},
		{name: "full scale", pcm: frame.PCMFrame{1, -1}, want: frame.EncodedFrame{0xff, 0x7f, 0x01, 0x80}},
		{name: "clipped", pcm: frame.PCMFrame{2, -3}, want: frame.EncodedFrame{0xff, 0x7f, 0x01, 0x80}},
		{name: "empty", pcm: frame.PCMFrame{}, want: frame.EncodedFrame{}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encoderdecoder.PCM16EncoderDecoder{}.Encode(tt.pcm)
			if err != nil {
				t.Fatalf("Encode() returned error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPCM16Decode(t *testing.T) {
	encdec := encoderdecoder.PCM16EncoderDecoder{}

	got, err := encdec.Decode(frame.EncodedFrame{0xff, 0x7f, 0x00, 0x00, 0x01, 0x80})
	if err != nil {
		t.Fatalf("Decode() returned error: %v", err)
	}
	if diff := cmp.Diff(frame.PCMFrame{1, 0, -1}, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}

	if _, err := encdec.Decode(frame.EncodedFrame{0x01, 0x02, 0x03}); !errors.Is(err, encoderdecoder.ErrPartialSample) {
		t.Errorf("Decode() of odd length = %v; want %v", err, encoderdecoder.ErrPartialSample)
	}
}

func TestSampleAt(t *testing.T) {
	src := []byte{0xe8, 0x03, 0x18, 0xfc}
	if got := encoderdecoder.SampleAt(src, 0); got != 1000 {
		t.Errorf("SampleAt(0) = %d; want 1000", got)
	}
	if got := encoderdecoder.SampleAt(src, 1); got != -1000 {
		t.Errorf("SampleAt(1) = %d; want -1000", got)
	}
}
