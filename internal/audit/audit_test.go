package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver})
		if err != nil || st != nil {
			t.Errorf("driver %q: expected (nil, nil), got (%v, %v)", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "sqlite"}); err == nil {
		t.Error("expected error for sqlite without path")
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := Open(Config{Driver: "memory", Capacity: 3})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "audit.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		mem.Close()
		sq.Close()
	})
	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestStoreAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			entries := []Entry{
				{At: base, Target: "a", Actor: "admin", Action: "configure", Result: "ok", Detail: "4", TookMS: 12},
				{At: base.Add(time.Second), Target: "b", Action: "pause", Result: "declined"},
				{At: base.Add(2 * time.Second), Target: "a", Action: "start", Result: "failed", Error: "boom"},
			}
			for _, e := range entries {
				if err := st.Append(ctx, e); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
			}

			got, err := st.Recent(ctx, "a", 10)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 entries for a, got %d", len(got))
			}
			if got[0].Action != "start" || got[1].Action != "configure" {
				t.Errorf("expected newest first, got %s, %s", got[0].Action, got[1].Action)
			}
			if got[0].Error != "boom" || got[1].Actor != "admin" || got[1].Detail != "4" || got[1].TookMS != 12 {
				t.Errorf("fields not preserved: %+v", got)
			}
			if !got[1].At.Equal(base) {
				t.Errorf("expected timestamp %v, got %v", base, got[1].At)
			}

			all, _ := st.Recent(ctx, "", 2)
			if len(all) != 2 || all[0].Target != "a" || all[1].Target != "b" {
				t.Errorf("expected the 2 newest entries across targets, got %+v", all)
			}
		})
	}
}

func TestMemoryStoreWrapsAround(t *testing.T) {
	ctx := context.Background()
	st := newMemory(2)
	st.Append(ctx, Entry{Target: "a", Action: "one"})
	st.Append(ctx, Entry{Target: "a", Action: "two"})
	st.Append(ctx, Entry{Target: "a", Action: "three"})

	got, _ := st.Recent(ctx, "a", 0)
	if len(got) != 2 || got[0].Action != "three" || got[1].Action != "two" {
		t.Errorf("expected [three two], got %+v", got)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	st := newMemory(2)
	st.Close()
	if err := st.Append(ctx, Entry{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestSQLiteRetention(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	st, err := Open(Config{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st.Append(ctx, Entry{At: time.Now().Add(-48 * time.Hour), Target: "a", Action: "old", Result: "ok"})
	st.Append(ctx, Entry{At: time.Now(), Target: "a", Action: "new", Result: "ok"})
	st.Close()

	// Reopening with a retention window prunes expired rows.
	st, err = Open(Config{Driver: "sqlite", Path: path, Retain: 24 * time.Hour})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, err := st.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 || got[0].Action != "new" {
		t.Errorf("expected only the recent entry, got %+v", got)
	}
}
