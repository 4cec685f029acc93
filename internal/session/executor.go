package session

import (
	"context"
	"errors"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/transport"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/uuid"
)

type event any

type connectRequest struct{}

type pressRequest struct{}

type releaseRequest struct{}

type disconnectRequest struct {
	ctx  context.Context
	done chan<- error
}

type dialResult struct {
	gen  int
	conn transport.Conn
	err  error
}

type controlReceived struct {
	gen  int
	text string
}

type transportFailed struct {
	gen int
	err error
}

type releaseElapsed struct {
	gen int
}

type narrationStarted struct{}

type narrationFinished struct{}

type nothingQueued struct {
	channel    protocol.Channel
	sequenceID uuid.UUID
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case connectRequest:
		s.handleConnect(ctx)
	case dialResult:
		s.handleDialResult(ctx, ev)
	case controlReceived:
		s.handleControl(ev)
	case transportFailed:
		if ev.gen != s.connGen || s.State() == Disconnected {
			return
		}
		s.failTransport(ctx, ev.err)
	case pressRequest:
		s.handlePress(ctx)
	case releaseRequest:
		s.handleRelease()
	case releaseElapsed:
		s.handleReleaseElapsed(ctx, ev)
	case narrationStarted:
		s.startPlaying()
	case narrationFinished:
		if s.State() == Playing {
			s.setState(Listening)
		}
	case nothingQueued:
		if ev.channel == protocol.ChannelNarration {
			s.endSilentNarration(ev.sequenceID)
		}
	case DownloadingChanged:
		s.emit(ev)
		if ev.Downloading && ev.Channel == protocol.ChannelNarration {
			s.startPlaying()
		}
	case disconnectRequest:
		ev.done <- s.disconnect(ev.ctx)
	default:
		s.logger.Error("unexpected session event", "event", ev)
	}
}

// --------------------------------------------------------------------------------
// Connection

func (s *Session) handleConnect(ctx context.Context) {
	if s.State() != Disconnected {
		s.logger.Debug("ignoring connect request", "state", s.State())
		return
	}
	s.setState(Connecting)

	gen := s.connGen
	connCtx, cancel := context.WithCancel(ctx)
	s.connCtx, s.connCancel = connCtx, cancel

	s.connWg.Add(1)
	go func() {
		defer s.connWg.Done()
		conn, err := s.dialer.Dial(connCtx)
		select {
		case s.inbox <- dialResult{gen: gen, conn: conn, err: err}:
		case <-connCtx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (s *Session) handleDialResult(ctx context.Context, result dialResult) {
	if result.gen != s.connGen || s.State() != Connecting {
		if result.conn != nil {
			result.conn.Close()
		}
		return
	}
	if result.err != nil {
		s.failTransport(ctx, result.err)
		return
	}

	s.conn = result.conn
	s.setState(Idle)

	s.connWg.Add(1)
	go s.receiveLoop(s.connCtx, s.connGen, s.conn)
}

// Hand binary frames to the reassembler and text messages to the executor, in arrival order,
// until the connection fails or ctx is canceled.
func (s *Session) receiveLoop(ctx context.Context, gen int, conn transport.Conn) {
	defer s.connWg.Done()
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case s.inbox <- transportFailed{gen: gen, err: err}:
			case <-ctx.Done():
			}
			return
		}

		switch msg.Type {
		case transport.BinaryMessage:
			if err := s.reassembler.Submit(ctx, msg.Data); err != nil {
				return
			}
		case transport.TextMessage:
			select {
			case s.inbox <- controlReceived{gen: gen, text: string(msg.Data)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) handleControl(ev controlReceived) {
	if ev.gen != s.connGen || s.State() == Disconnected {
		return
	}

	control, err := protocol.ParseControl(ev.text)
	if err != nil {
		s.logger.Debug("ignoring text message", "msg", ev.text, "err", err)
		return
	}

	switch c := control.(type) {
	case protocol.SessionReady:
		s.logger.Info("session ready", "sessionID", c.ID)
		s.emit(SessionStarted{ID: c.ID})
		if s.State() == Idle {
			s.setState(Listening)
		}
	case protocol.ArcProgress:
		progress := protocol.ClampArcProgress(s.progress, c.Value)
		if progress != s.progress {
			s.progress = progress
			s.emit(ProgressChanged{Value: progress})
		}
	case protocol.Streak:
		if c.Value != s.score {
			s.score = c.Value
			s.emit(ScoreChanged{Value: c.Value})
		}
	}
}

func (s *Session) failTransport(ctx context.Context, err error) {
	s.logger.Warn("transport failure, disconnecting", "err", err)
	if err := s.disconnect(ctx); err != nil {
		s.logger.Error("error while disconnecting", "err", err)
	}
}

// In order: stop capture, close the connection, discard in-flight transfers, drop queued playback.
func (s *Session) disconnect(ctx context.Context) error {
	var errs []error

	s.cancelRelease()
	s.stopCapture()

	if s.connCancel != nil {
		s.connCancel()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			errs = append(errs, err)
		}
		s.conn = nil
	}
	s.connWg.Wait()
	s.connCtx, s.connCancel = nil, nil
	s.connGen++

	errs = append(errs, s.reassembler.Reset(ctx))
	errs = append(errs, s.scheduler.Reset(ctx))

	if s.progress != 0 {
		s.progress = 0
		s.emit(ProgressChanged{Value: 0})
	}
	s.setState(Disconnected)
	return errors.Join(errs...)
}

// Release everything on exit. The pipeline stops with the Run context.
func (s *Session) shutdown() {
	s.cancelRelease()
	s.stopCapture()
	if s.connCancel != nil {
		s.connCancel()
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connWg.Wait()
	s.logger.Debug("session stopped")
}

// --------------------------------------------------------------------------------
// Talk gesture

func (s *Session) handlePress(ctx context.Context) {
	switch s.State() {
	case Recording:
		if s.releasePending {
			s.logger.Debug("press within release debounce, continuing recording")
			s.cancelRelease()
		}
	case Listening:
		if err := s.startCapture(); err != nil {
			s.logger.Error("could not start capture", "err", err)
			return
		}
		if err := s.conn.SendText(protocol.ControlStart); err != nil {
			s.failTransport(ctx, err)
			return
		}
		s.setState(Recording)
	default:
		s.logger.Debug("ignoring press", "state", s.State())
	}
}

func (s *Session) handleRelease() {
	if s.State() != Recording || s.releasePending {
		return
	}

	s.releasePending = true
	s.releaseGen++
	gen := s.releaseGen
	s.releaseTimer = time.AfterFunc(s.cfg.ReleaseDebounce, func() {
		select {
		case s.inbox <- releaseElapsed{gen: gen}:
		case <-s.done:
		}
	})
}

func (s *Session) handleReleaseElapsed(ctx context.Context, ev releaseElapsed) {
	if ev.gen != s.releaseGen || !s.releasePending || s.State() != Recording {
		return
	}
	s.releasePending = false
	s.releaseTimer = nil

	s.stopCapture()
	if err := s.conn.SendText(protocol.ControlStop); err != nil {
		s.failTransport(ctx, err)
		return
	}
	s.setState(Thinking)
}

func (s *Session) cancelRelease() {
	if s.releaseTimer != nil {
		s.releaseTimer.Stop()
		s.releaseTimer = nil
	}
	s.releasePending = false
	s.releaseGen++
}

// Start the capture device and forward its frames to the connection.
func (s *Session) startCapture() error {
	if s.capture == nil || s.capturing {
		return nil
	}
	frames, err := s.capture.Start()
	if err != nil {
		return err
	}

	conn, gen := s.conn, s.connGen
	done := make(chan struct{})
	s.capturing, s.forwarderDone = true, done

	go func() {
		defer close(done)
		failed := false
		for f := range frames {
			if failed {
				continue
			}
			if err := conn.SendBinary(f); err != nil {
				failed = true
				s.signal(transportFailed{gen: gen, err: err})
			}
		}
	}()
	return nil
}

func (s *Session) stopCapture() {
	if !s.capturing {
		return
	}
	s.capture.Stop()
	<-s.forwarderDone
	s.capturing, s.forwarderDone = false, nil
}

// --------------------------------------------------------------------------------
// Playback

func (s *Session) startPlaying() {
	switch s.State() {
	case Listening, Thinking:
		s.setState(Playing)
	}
}

// A narration transfer that queued no audio never reaches the activity monitor, so no
// narration-finished edge will follow it.
func (s *Session) endSilentNarration(sequenceID uuid.UUID) {
	if s.State() != Playing {
		return
	}
	if s.monitor.Active() || s.scheduler.Sink(protocol.ChannelNarration).Queued() > 0 {
		return
	}
	s.logger.Debug("narration finished without audio", "sequenceID", sequenceID)
	s.setState(Listening)
}
