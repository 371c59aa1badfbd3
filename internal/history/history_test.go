package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dmvwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entries := []Entry{
		{At: now.Add(-2 * time.Hour), Office: "Cary", Available: false},
		{At: now.Add(-time.Hour), Office: "Durham", Available: true, SlotCount: 2, Samples: []string{"9:00 AM", "2:30 PM"}},
		{At: now, Office: "Cary", Available: true, SlotCount: 1, Samples: []string{"11:15 AM"}},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Office != "Cary" || !got[0].Available {
		t.Fatalf("newest entry wrong: %+v", got[0])
	}
	if got[2].Office != "Cary" || got[2].Available {
		t.Fatalf("oldest entry wrong: %+v", got[2])
	}
	if len(got[1].Samples) != 2 || got[1].Samples[0] != "9:00 AM" {
		t.Fatalf("samples not round-tripped: %+v", got[1].Samples)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, Entry{Office: "Cary"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored: got %d entries", len(got))
	}
}

func TestPruneRemovesOldRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Record(ctx, Entry{At: now.Add(-48 * time.Hour), Office: "Cary"})
	_ = s.Record(ctx, Entry{At: now, Office: "Cary"})

	removed, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d rows, want 1", removed)
	}
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(got))
	}
}
