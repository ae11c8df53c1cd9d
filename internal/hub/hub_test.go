package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
	"github.com/dukepan/multi-rooms-chat-back/internal/wire"
)

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, h *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Register(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// TestRegisterSendsWelcomeFrame covers the connection-accept behavior of
// §5: a new socket gets a `system` frame before anything else, with no
// auth or room state required.
func TestRegisterSendsWelcomeFrame(t *testing.T) {
	h := New(nil, logging.New("error"))
	_, url := newTestServer(t, h)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame wire.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read welcome frame: %v", err)
	}
	if frame["type"] != wire.ServerSystem {
		t.Fatalf("expected system frame on accept, got %+v", frame)
	}
}
