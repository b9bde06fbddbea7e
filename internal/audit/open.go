package audit

import (
	"fmt"
	"strings"
)

// Open initializes the configured store.
// It returns (nil, nil) if auditing is disabled.
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	case "memory":
		return newMemory(cfg.Capacity), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown audit driver: %s", driver)
	}
}
