package storage

import (
	"context"
	"time"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ProfileRequest records one confirmed workflow submission.
// Keep it compact and schema-stable.
type ProfileRequest struct {
	At      time.Time
	ActorID int64
	Kind    string // "open" | "create"
	Payload string // JSON
	OK      bool
	Error   string
}

// GasStats summarizes recorded gas samples over a window.
type GasStats struct {
	Samples int
	Min     float64
	Avg     float64
	Max     float64
}

// Store is the persistence API used by the bot and the monitor loop.
type Store interface {
	ListEnabledSubscribers(ctx context.Context) ([]int64, error)
	SetSubscription(ctx context.Context, userID int64, username string, enabled bool) error
	Subscription(ctx context.Context, userID int64) (bool, error)

	AppendProfileRequest(ctx context.Context, e ProfileRequest) error
	RecordGasSample(ctx context.Context, at time.Time, gwei float64) error
	GasStats(ctx context.Context, since time.Time) (GasStats, error)

	Close() error
}
