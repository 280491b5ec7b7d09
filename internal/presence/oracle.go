package presence

import (
	"context"
	"time"
)

// OnlineWindow is the staleness threshold for a last-seen timestamp.
// Every online judgement (the candidate list, GET /presence/{id}) goes
// through IsOnline.
const OnlineWindow = 2 * time.Minute

// IsOnline reports whether lastSeen is fresh relative to now.
func IsOnline(now, lastSeen time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) < OnlineWindow
}

// Oracle answers liveness questions for a single user.
type Oracle interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}
