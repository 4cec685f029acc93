// Package signalling defines the messages exchanged with the story server's signalling
// endpoint to negotiate a WebRTC data channel.
package signalling

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Posted by the client to the signalling endpoint. The response body is the
// webrtc.SessionDescription of the server's answer.
type Offer struct {
	// Identifies the client across reconnects.
	ClientID uuid.UUID

	// The complete offer, including every gathered ICE candidate.
	SessionDescription webrtc.SessionDescription
}
