package transport_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/transport"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

type serverScript func(t *testing.T, conn *websocket.Conn)

func startServer(t *testing.T, wantAuth string, script serverScript) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != wantAuth {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() returned error: %v", err)
			return
		}
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketExchange(t *testing.T) {
	received := make(chan string, 1)
	url := startServer(t, "Bearer secret", func(t *testing.T, conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("ARCNO: 2")); err != nil {
			t.Errorf("WriteMessage() returned error: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
			t.Errorf("WriteMessage() returned error: %v", err)
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("ReadMessage() returned error: %v", err)
			return
		}
		received <- string(data)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	})

	conn, err := transport.NewWebSocketDialer(url, "secret").Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}
	defer conn.Close()

	want := []transport.Message{
		{Type: transport.TextMessage, Data: []byte("ARCNO: 2")},
		{Type: transport.BinaryMessage, Data: []byte{1, 2, 3}},
	}
	for i, w := range want {
		got, err := conn.Read(t.Context())
		if err != nil {
			t.Fatalf("Read() #%d returned error: %v", i, err)
		}
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("Read() #%d mismatch (-want +got):\n%s", i, diff)
		}
	}

	if err := conn.SendText("START"); err != nil {
		t.Fatalf("SendText() returned error: %v", err)
	}
	if got := <-received; got != "START" {
		t.Errorf("server received %q; want %q", got, "START")
	}

	if _, err := conn.Read(t.Context()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Read() after server close = %v; want ErrClosed", err)
	}
}

func TestWebSocketDialRejected(t *testing.T) {
	url := startServer(t, "Bearer secret", func(t *testing.T, conn *websocket.Conn) {})

	_, err := transport.NewWebSocketDialer(url, "wrong").Dial(t.Context())
	if !errors.Is(err, transport.ErrTransport) {
		t.Errorf("Dial() = %v; want ErrTransport", err)
	}
}

func TestWebSocketCloseIsIdempotent(t *testing.T) {
	hold := make(chan struct{})
	url := startServer(t, "", func(t *testing.T, conn *websocket.Conn) {
		<-hold
	})
	defer close(hold)

	conn, err := transport.NewWebSocketDialer(url, "").Dial(t.Context())
	if err != nil {
		t.Fatalf("Dial() returned error: %v", err)
	}

	for range 2 {
		if err := conn.Close(); err != nil {
			t.Errorf("Close() returned error: %v", err)
		}
	}
	if _, err := conn.Read(t.Context()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Read() after Close = %v; want ErrClosed", err)
	}
	if err := conn.SendBinary([]byte{1}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("SendBinary() after Close = %v; want ErrClosed", err)
	}
}
