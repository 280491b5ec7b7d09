package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/feed"
	"github.com/park285/quiz-duel/internal/feedws"
)

func main() {
	wsURL := os.Getenv("FEED_WS_URL")
	token := os.Getenv("FEED_TOKEN")
	if wsURL == "" {
		log.Fatal("FEED_WS_URL is required")
	}

	observe := 10 * time.Second
	if v := os.Getenv("FEED_OBSERVE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			observe = d
		}
	}

	ws := feedws.NewWebSocket(wsURL, 3, time.Second)
	ws.SetHeaderProvider(func() map[string]string {
		if token == "" {
			return nil
		}
		return map[string]string{"Authorization": "Bearer " + token}
	})
	ws.OnStateChange(func(state feedws.State) {
		log.Printf("WS state: %s", state)
	})

	// same path the server uses: frames -> Bridge -> Hub
	hub := feed.NewHub()
	detach := feedws.Bridge(ws, hub, clockwork.NewRealClock(), nil)
	defer detach()
	snapshots, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	deadline := time.NewTimer(observe)
	defer deadline.Stop()
loop:
	for {
		select {
		case players := <-snapshots:
			fmt.Printf("online snapshot: %d players (bots dropped)\n", len(players))
			for _, p := range players {
				fmt.Printf("  %-24s rating=%-5d level=%-7s school=%s\n", p.UserID, p.Rating, p.Level, p.School)
			}
		case <-deadline.C:
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ws.Close(ctx)
}
