package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/session"
	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/pkg/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

type fakeController struct {
	calls     []string
	volume    float32
	exportErr error
}

func (c *fakeController) Press(context.Context) error {
	c.calls = append(c.calls, "press")
	return nil
}

func (c *fakeController) Release(context.Context) error {
	c.calls = append(c.calls, "release")
	return nil
}

func (c *fakeController) Replay(context.Context) error {
	c.calls = append(c.calls, "replay")
	return nil
}

func (c *fakeController) SetVolume(_ context.Context, volume float32) error {
	c.calls = append(c.calls, "volume")
	c.volume = volume
	return nil
}

func (c *fakeController) ExportReplay(w io.WriteSeeker) error {
	c.calls = append(c.calls, "export")
	if c.exportErr != nil {
		return c.exportErr
	}
	_, err := w.Write([]byte("RIFF"))
	return err
}

func (c *fakeController) State() session.State {
	return session.Listening
}

func TestReadCommands(t *testing.T) {
	c := &fakeController{}
	input := strings.NewReader("press\n\nrelease\nvolume 0.5\nreplay\nstatus\nquit\npress\n")
	var out bytes.Buffer

	if err := readCommands(t.Context(), c, input, &out); err != nil {
		t.Fatalf("readCommands() returned error: %v", err)
	}

	want := []string{"press", "release", "volume", "replay"}
	if diff := cmp.Diff(want, c.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if c.volume != 0.5 {
		t.Errorf("volume = %v; want 0.5", c.volume)
	}
	if !strings.Contains(out.String(), "Listening") {
		t.Errorf("status output %q does not contain the state", out.String())
	}
}

func TestRunCommandErrors(t *testing.T) {
	tc := []struct {
		line string
		want error
	}{
		{line: "dance", want: errUnknownCommand},
		{line: "quit", want: errQuit},
	}

	for _, tt := range tc {
		t.Run(tt.line, func(t *testing.T) {
			err := runCommand(t.Context(), &fakeController{}, tt.line, io.Discard)
			if !errors.Is(err, tt.want) {
				t.Errorf("runCommand(%q) = %v; want %v", tt.line, err, tt.want)
			}
		})
	}

	for _, line := range []string{"volume", "volume loud", "export"} {
		t.Run(line, func(t *testing.T) {
			if err := runCommand(t.Context(), &fakeController{}, line, io.Discard); err == nil {
				t.Errorf("runCommand(%q) returned nil error", line)
			}
		})
	}
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "replay.wav")
	if err := runCommand(t.Context(), &fakeController{}, "export "+path, io.Discard); err != nil {
		t.Fatalf("export returned error: %v", err)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "RIFF" {
		t.Errorf("exported file = %q, %v; want RIFF", data, err)
	}

	failing := &fakeController{exportErr: errors.New("nothing to export")}
	path = filepath.Join(dir, "empty.wav")
	if err := runCommand(t.Context(), failing, "export "+path, io.Discard); err == nil {
		t.Fatal("export returned nil error")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("failed export left a file behind: %v", err)
	}
}

func TestFormatUpdate(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	tc := []struct {
		update session.Update
		want   string
	}{
		{session.StateChanged{From: session.Listening, To: session.Recording}, "[state] Listening -> Recording"},
		{session.ProgressChanged{Value: 3}, "[progress] 3"},
		{session.ScoreChanged{Value: 7}, "[streak] 7"},
		{
			session.DownloadingChanged{Channel: protocol.ChannelNarration, SequenceID: id, Downloading: true},
			"[download] narration 6ba7b810-9dad-11d1-80b4-00c04fd430c8 started",
		},
	}

	for _, tt := range tc {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatUpdate(tt.update); got != tt.want {
				t.Errorf("formatUpdate() = %q; want %q", got, tt.want)
			}
		})
	}
}
