package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by operations on a disabled store.
var ErrDisabled = errors.New("audit disabled")

// Config configures the audit trail.
//
// Driver values:
//   - "memory": bounded in-process ring, lost on restart
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver string
	Path   string
	// Retain is how long sqlite entries are kept; 0 keeps everything.
	Retain time.Duration
	// Capacity bounds the memory driver; 0 means 1000.
	Capacity int
}

// Entry records one panel action.
type Entry struct {
	At     time.Time `json:"at"`
	Target string    `json:"target"`
	Actor  string    `json:"actor,omitempty"`
	Action string    `json:"action"`
	Result string    `json:"result"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit entries for target, newest first.
	Recent(ctx context.Context, target string, limit int) ([]Entry, error)
	Close() error
}
