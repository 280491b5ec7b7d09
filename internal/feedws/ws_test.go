package feedws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/quiz-duel/internal/domain"
	"github.com/park285/quiz-duel/internal/feed"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newFeedServer(t *testing.T, frames ...Frame) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for _, f := range frames {
			if err := wsjson.Write(r.Context(), conn, f); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestBridgePublishesOnlineFrames(t *testing.T) {
	srv := newFeedServer(t,
		Frame{Type: "hello"},
		Frame{Type: FrameOnline, Players: []domain.Player{
			{UserID: "u1", Rating: 1250},
			{UserID: "bot:quiz-bot"},
			{UserID: "u2"},
		}},
	)
	hub := feed.NewHub()
	updates, cancel := hub.Subscribe()
	defer cancel()

	ws := NewWebSocket(wsURL(srv), 0, 0)
	detach := Bridge(ws, hub, nil, nil)
	defer detach()
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() {
		ctx, c := context.WithTimeout(context.Background(), time.Second)
		defer c()
		_ = ws.Close(ctx)
	}()

	select {
	case got := <-updates:
		if len(got) != 2 {
			t.Fatalf("expected 2 humans, got %+v", got)
		}
		if got[1].Rating != domain.DefaultRating {
			t.Fatalf("missing rating should default: %+v", got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot published")
	}
	if ws.State() != StateConnected {
		t.Fatalf("state: %s", ws.State())
	}
}

func TestBridgeMarksUnavailableOnDisconnect(t *testing.T) {
	hub := feed.NewHub()
	ws := NewWebSocket("ws://127.0.0.1:1/feed", 0, 0)
	detach := Bridge(ws, hub, nil, nil)
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
	if _, err := hub.Snapshot(context.Background()); !errors.Is(err, feed.ErrUnavailable) {
		t.Fatalf("expected hub unavailable, got %v", err)
	}
	_ = ws.Close(ctx)
}
