package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Outbound sideband tokens.
const (
	ControlStart = "START"
	ControlStop  = "STOP"
)

const (
	arcPrefix    = "ARCNO:"
	streakPrefix = "Streak:"

	// Highest value of the story arc progress indicator.
	MaxArcProgress = 7
)

var (
	ErrMalformedControl = errors.New("malformed control message")
)

// An inbound sideband text message. One of SessionReady, ArcProgress, Streak.
type Control interface {
	controlType() string
}

// The server has assigned a session identifier; the session is ready for speech.
type SessionReady struct {
	ID uuid.UUID
}

// Story arc progress as reported by the server. Not yet clamped.
type ArcProgress struct {
	Value int
}

// Session score counter.
type Streak struct {
	Value int
}

func (SessionReady) controlType() string { return "session_ready" }
func (ArcProgress) controlType() string  { return "arc_progress" }
func (Streak) controlType() string       { return "streak" }

// Parse an inbound text message.
//
// `ARCNO: <int>` and `Streak: <int>` are matched by prefix. Any other message must be a bare
// session identifier, formatted as a UUID.
func ParseControl(msg string) (Control, error) {
	msg = strings.TrimSpace(msg)

	switch {
	case strings.HasPrefix(msg, arcPrefix):
		v, err := parseControlInt(msg, arcPrefix)
		if err != nil {
			return nil, err
		}
		return ArcProgress{Value: v}, nil

	case strings.HasPrefix(msg, streakPrefix):
		v, err := parseControlInt(msg, streakPrefix)
		if err != nil {
			return nil, err
		}
		return Streak{Value: v}, nil
	}

	id, err := uuid.Parse(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedControl, msg)
	}
	return SessionReady{ID: id}, nil
}

func parseControlInt(msg string, prefix string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(msg, prefix)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrMalformedControl, msg, err)
	}
	return v, nil
}

// Clamp a reported arc value to [0, MaxArcProgress] without ever moving below current.
func ClampArcProgress(current int, reported int) int {
	reported = max(0, min(reported, MaxArcProgress))
	return max(current, reported)
}
