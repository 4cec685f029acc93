package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/session"
)

var (
	errQuit           = errors.New("quit")
	errUnknownCommand = errors.New("unknown command")
)

// The operations of a session driven from the command line.
type controller interface {
	Press(ctx context.Context) error
	Release(ctx context.Context) error
	Replay(ctx context.Context) error
	SetVolume(ctx context.Context, volume float32) error
	ExportReplay(w io.WriteSeeker) error
	State() session.State
}

const helpText = `commands:
  press          start talking
  release        stop talking
  replay         play the last narration again
  volume <v>     set the narration volume, 1.0 is natural
  export <path>  write the last narration to a .WAV file
  status         print the turn state
  quit           disconnect and exit`

// Read commands from r until it is exhausted, ctx is canceled, or the user quits.
func readCommands(ctx context.Context, c controller, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(w, helpText)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := runCommand(ctx, c, line, w)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				fmt.Fprintf(w, "error: %v\n", err)
			}
		}
	}
}

func runCommand(ctx context.Context, c controller, line string, w io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "press", "p":
		return c.Press(ctx)
	case "release", "r":
		return c.Release(ctx)
	case "replay":
		return c.Replay(ctx)
	case "volume":
		if len(fields) != 2 {
			return errors.New("usage: volume <v>")
		}
		v, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return fmt.Errorf("invalid volume %q: %w", fields[1], err)
		}
		return c.SetVolume(ctx, float32(v))
	case "export":
		if len(fields) != 2 {
			return errors.New("usage: export <path>")
		}
		return exportReplay(c, fields[1])
	case "status":
		fmt.Fprintln(w, c.State())
		return nil
	case "help":
		fmt.Fprintln(w, helpText)
		return nil
	case "quit", "q":
		return errQuit
	default:
		return fmt.Errorf("%w %q, type help for a list", errUnknownCommand, fields[0])
	}
}

func exportReplay(c controller, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.ExportReplay(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Print session updates until the channel is closed or ctx is canceled.
func printUpdates(ctx context.Context, updates <-chan session.Update, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			fmt.Fprintln(w, formatUpdate(u))
		}
	}
}

func formatUpdate(u session.Update) string {
	switch u := u.(type) {
	case session.StateChanged:
		return fmt.Sprintf("[state] %v -> %v", u.From, u.To)
	case session.SessionStarted:
		return fmt.Sprintf("[session] %v", u.ID)
	case session.ProgressChanged:
		return fmt.Sprintf("[progress] %d", u.Value)
	case session.ScoreChanged:
		return fmt.Sprintf("[streak] %d", u.Value)
	case session.DownloadingChanged:
		if u.Downloading {
			return fmt.Sprintf("[download] %v %v started", u.Channel, u.SequenceID)
		}
		return fmt.Sprintf("[download] %v %v finished", u.Channel, u.SequenceID)
	default:
		return fmt.Sprintf("[update] %v", u)
	}
}
