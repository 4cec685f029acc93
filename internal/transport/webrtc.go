package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/signalling"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const dataChannelLabel = "story"

// Negotiates a fresh WebRTC data channel with the story server on every Dial.
//
// The flow of a Dial is as follows:
//
//  1. A new webrtc.PeerConnection is created with a single data channel, and an offer is made.
//     The offer is held back until ICE gathering completes, so no trickle signalling is needed.
//
//  2. The complete offer is POSTed as a signalling.Offer to SignallingURL, authenticated with
//     AuthToken as a bearer token.
//
//  3. The server responds with its answer. Once the answer is set, the data channel opens and
//     the connection is returned, owning the PeerConnection.
type WebRTCDialer struct {
	logger *slog.Logger

	SignallingURL string
	AuthToken     string

	ClientID   uuid.UUID
	Config     webrtc.Configuration
	HTTPClient *http.Client
}

func NewWebRTCDialer(signallingURL string, authToken string, config webrtc.Configuration) *WebRTCDialer {
	clientID := uuid.New()
	return &WebRTCDialer{
		logger:        utils.ComponentLogger("webrtc", clientID),
		SignallingURL: signallingURL,
		AuthToken:     authToken,
		ClientID:      clientID,
		Config:        config,
		HTTPClient:    http.DefaultClient,
	}
}

func (d *WebRTCDialer) Dial(ctx context.Context) (Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	logger := d.logger
	if logger == nil {
		logger = slog.Default()
	}
	requestLogger := logger.With(
		"requestUUID", uuid.New().String(),
	)
	requestLogger.Debug("new SDP offer started")

	pc, err := webrtc.NewPeerConnection(d.Config)
	if err != nil {
		requestLogger.Error(
			"error while creating new peer connection for dialing",
			"err", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: create data channel: %w", ErrTransport, err)
	}
	conn := newDataChannelConn(dc)
	conn.peerConnection = pc
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		requestLogger.Debug("peer connection state change", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			conn.shutdown(fmt.Errorf("%w: peer connection failed", ErrTransport))
		}
	})

	answer, err := d.negotiate(ctx, pc)
	if err != nil {
		requestLogger.Error("error while negotiating connection", "err", err)
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		requestLogger.Error(
			"error while setting connection remote description",
			"err", err,
		)
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := conn.waitOpen(ctx); err != nil {
		return nil, err
	}
	requestLogger.Debug("data channel established")
	return conn, nil
}

// Make the offer, gather every candidate and exchange the offer for the server's answer.
func (d *WebRTCDialer) negotiate(ctx context.Context, pc *webrtc.PeerConnection) (webrtc.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	offerJSON, err := json.Marshal(signalling.Offer{
		ClientID:           d.ClientID,
		SessionDescription: *pc.LocalDescription(),
	})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.SignallingURL, bytes.NewReader(offerJSON))
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.AuthToken)
	}

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return webrtc.SessionDescription{}, fmt.Errorf("signalling rejected offer (status %d)", resp.StatusCode)
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode answer: %w", err)
	}
	return answer, nil
}
