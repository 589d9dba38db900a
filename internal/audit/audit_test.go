package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteListCounts(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	now := time.Now()
	records := []Record{
		{Timestamp: now, StreamID: "a", Source: "sequential", Event: EventStart, Seq: 0},
		{Timestamp: now, StreamID: "a", Source: "sequential", Event: EventEnqueue, Seq: 1, Chunk: "1"},
		{Timestamp: now, StreamID: "b", Source: "sequential", Event: EventError, Seq: 0, Error: "boom"},
		{Timestamp: now, StreamID: "a", Source: "sequential", Event: EventFinish, Seq: 2},
	}
	for _, r := range records {
		if err := store.Write(ctx, r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := store.List(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].Event != EventStart || got[1].Chunk != "1" || got[2].Event != EventFinish {
		t.Fatalf("unexpected records: %+v", got)
	}
	if got[0].Source != "sequential" || got[0].Timestamp.UnixMilli() != now.UnixMilli() {
		t.Fatalf("fields not round-tripped: %+v", got[0])
	}

	counts, err := store.Counts(ctx, "b")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[EventError] != 1 || len(counts) != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
	if err := s.Write(context.Background(), Record{}); err == nil {
		t.Fatalf("expected error writing to nil store")
	}
	if _, err := s.List(context.Background(), "x"); err == nil {
		t.Fatalf("expected error listing a nil store")
	}
	if _, err := s.Counts(context.Background(), "x"); err == nil {
		t.Fatalf("expected error counting a nil store")
	}
}
