// Package dedup records webhook event ids so redeliveries are handled once.
package dedup

import (
	"context"
	"time"
)

// DefaultTTL covers the platform's redelivery schedule.
const DefaultTTL = 24 * time.Hour

// Store remembers event ids for a retention window.
type Store interface {
	// Seen reports whether id is currently recorded.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id and reports whether it was already recorded.
	// Check and insert happen as one step.
	Mark(ctx context.Context, id string) (bool, error)
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)
