package protocol_test

import (
	"errors"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestHeaderRoundTrip(t *testing.T) {
	tc := []struct {
		name   string
		header protocol.Header
	}{
		{
			name: "narration",
			header: protocol.Header{
				Indicator:    protocol.IndicatorNarration,
				PacketSize:   2048,
				SequenceID:   uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
				PacketIndex:  1,
				TotalPackets: 12,
				SampleRate:   24000,
			},
		},
		{
			name: "full width indicator",
			header: protocol.Header{
				Indicator:    protocol.IndicatorMusic,
				PacketSize:   65536,
				SequenceID:   uuid.New(),
				PacketIndex:  7,
				TotalPackets: 7,
				SampleRate:   44100,
			},
		},
		{
			name: "unknown indicator passes through",
			header: protocol.Header{
				Indicator:    "ZZ",
				SequenceID:   uuid.Nil,
				PacketIndex:  0,
				TotalPackets: 0,
			},
		},
		{
			name: "max values",
			header: protocol.Header{
				Indicator:    "ABCDE",
				PacketSize:   ^uint32(0),
				SequenceID:   uuid.UUID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
				PacketIndex:  ^uint32(0),
				TotalPackets: ^uint32(0),
				SampleRate:   ^uint32(0),
			},
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			encoded, err := test.header.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() returned error: %v", err)
			}
			if len(encoded) != protocol.HeaderSize {
				t.Fatalf("len(encoded) = %d; want %d", len(encoded), protocol.HeaderSize)
			}

			got, err := protocol.ParseHeader(encoded)
			if err != nil {
				t.Fatalf("ParseHeader() returned error: %v", err)
			}
			if diff := cmp.Diff(test.header, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseHeaderByteLayout(t *testing.T) {
	data := []byte{
		'S', 'F', 'X', ' ', ' ', // Indicator
		0x00, 0x00, 0x08, 0x00, // PacketSize: 2048
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, // SequenceID
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
		0x00, 0x00, 0x00, 0x02, // PacketIndex: 2
		0x00, 0x00, 0x00, 0x03, // TotalPackets: 3
		0x00, 0x00, 0xac, 0x44, // SampleRate: 44100
		0x01, 0x02, // payload
	}

	frame, err := protocol.ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame() returned error: %v", err)
	}

	want := protocol.Header{
		Indicator:    "SFX",
		PacketSize:   2048,
		SequenceID:   uuid.UUID{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		PacketIndex:  2,
		TotalPackets: 3,
		SampleRate:   44100,
	}
	if diff := cmp.Diff(want, frame.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x01, 0x02}, frame.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestParseHeaderIncomplete(t *testing.T) {
	for _, size := range []int{0, 1, protocol.IndicatorSize, protocol.HeaderSize - 1} {
		_, err := protocol.ParseHeader(make([]byte, size))
		if !errors.Is(err, protocol.ErrIncompleteHeader) {
			t.Errorf("ParseHeader(%d bytes) error = %v; want ErrIncompleteHeader", size, err)
		}
	}

	if _, err := protocol.ParseFrame(make([]byte, protocol.HeaderSize)); err != nil {
		t.Errorf("ParseFrame(%d bytes) returned error: %v", protocol.HeaderSize, err)
	}
}

func TestEncodeFrameTruncatesLongIndicator(t *testing.T) {
	encoded := protocol.EncodeFrame(protocol.Header{Indicator: "NARRATION"}, []byte{9})
	frame, err := protocol.ParseFrame(encoded)
	if err != nil {
		t.Fatalf("ParseFrame() returned error: %v", err)
	}
	if frame.Header.Indicator != "NARRA" {
		t.Errorf("Indicator = %q; want %q", frame.Header.Indicator, "NARRA")
	}
	if len(frame.Payload) != 1 || frame.Payload[0] != 9 {
		t.Errorf("Payload = %v; want [9]", frame.Payload)
	}
}

func TestChannelFromIndicator(t *testing.T) {
	tc := map[string]protocol.Channel{
		protocol.IndicatorNarration: protocol.ChannelNarration,
		protocol.IndicatorMusic:     protocol.ChannelMusic,
		protocol.IndicatorEffects:   protocol.ChannelEffects,
		protocol.IndicatorFiller:    protocol.ChannelFiller,
		"BEEP":                      protocol.ChannelUnknown,
		"":                          protocol.ChannelUnknown,
	}
	for indicator, want := range tc {
		if got := protocol.ChannelFromIndicator(indicator); got != want {
			t.Errorf("ChannelFromIndicator(%q) = %v; want %v", indicator, got, want)
		}
		if want != protocol.ChannelUnknown && want.Indicator() != indicator {
			t.Errorf("%v.Indicator() = %q; want %q", want, want.Indicator(), indicator)
		}
	}
}
