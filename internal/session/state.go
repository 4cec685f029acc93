package session

import (
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
)

// Turn state of a session: whether the user or the story may currently produce audio.
type State int32

const (
	Disconnected State = iota
	Connecting
	Idle
	Listening
	Recording
	Thinking
	Playing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Idle:
		return "Idle"
	case Listening:
		return "Listening"
	case Recording:
		return "Recording"
	case Thinking:
		return "Thinking"
	case Playing:
		return "Playing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// --------------------------------------------------------------------------------
// Updates published to the UI

// Published on Session.Updates.
// One of StateChanged, SessionStarted, ProgressChanged, ScoreChanged, DownloadingChanged.
type Update interface {
	update()
}

type StateChanged struct {
	From State
	To   State
}

// The server announced the session identifier.
type SessionStarted struct {
	ID uuid.UUID
}

// Story arc progress, in [0, protocol.MaxArcProgress]. Never decreases within a connection.
type ProgressChanged struct {
	Value int
}

type ScoreChanged struct {
	Value int
}

// A transfer started or finished downloading.
type DownloadingChanged struct {
	Channel     protocol.Channel
	SequenceID  uuid.UUID
	Downloading bool
}

func (StateChanged) update()       {}
func (SessionStarted) update()     {}
func (ProgressChanged) update()    {}
func (ScoreChanged) update()       {}
func (DownloadingChanged) update() {}
