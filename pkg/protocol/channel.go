package protocol

import (
	"errors"
	"fmt"
)

// Logical audio channel multiplexed over the transport, identified on the wire by its indicator.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelNarration
	ChannelMusic
	ChannelEffects

	// Placeholder audio sent while the narration is being generated.
	// Its payload is reassembled but never played.
	ChannelFiller
)

const (
	IndicatorNarration = "NARR"
	IndicatorMusic     = "MUSIC"
	IndicatorEffects   = "SFX"
	IndicatorFiller    = "FILL"
)

var (
	ErrUnknownChannel = errors.New("unknown channel indicator")
)

// Map a (trimmed) wire indicator to its Channel.
// Unrecognized indicators map to ChannelUnknown.
func ChannelFromIndicator(indicator string) Channel {
	switch indicator {
	case IndicatorNarration:
		return ChannelNarration
	case IndicatorMusic:
		return ChannelMusic
	case IndicatorEffects:
		return ChannelEffects
	case IndicatorFiller:
		return ChannelFiller
	default:
		return ChannelUnknown
	}
}

func (c Channel) Indicator() string {
	switch c {
	case ChannelNarration:
		return IndicatorNarration
	case ChannelMusic:
		return IndicatorMusic
	case ChannelEffects:
		return IndicatorEffects
	case ChannelFiller:
		return IndicatorFiller
	default:
		return ""
	}
}

// Music and effects arrive as interleaved stereo; narration and filler as mono.
func (c Channel) IsStereo() bool {
	return c == ChannelMusic || c == ChannelEffects
}

func (c Channel) String() string {
	switch c {
	case ChannelNarration:
		return "narration"
	case ChannelMusic:
		return "music"
	case ChannelEffects:
		return "effects"
	case ChannelFiller:
		return "filler"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}
