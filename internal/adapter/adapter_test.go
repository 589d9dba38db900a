package adapter

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"stream-gate/internal/audit"
	"stream-gate/internal/collect"
	"stream-gate/internal/eventloop"
	"stream-gate/internal/source"
	"stream-gate/internal/stream"
	"stream-gate/internal/strategy"
)

func drain[T any](t *testing.T, r collect.Readable[T]) ([]T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return collect.Drain(ctx, r)
}

func TestSequentialSyncDrainsThreeChunks(t *testing.T) {
	s, src := Sequential(3, eventloop.Immediate{}, strategy.NewCount(1))
	got, err := drain[int](t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("unexpected chunks %v", got)
	}
	if !src.Opened() || !src.Closed() || src.Position() != 4 {
		t.Fatalf("unexpected source state opened=%v closed=%v pos=%d", src.Opened(), src.Closed(), src.Position())
	}
}

func TestSequentialZeroLimitDrainsEmpty(t *testing.T) {
	s, src := Sequential(0, nil, strategy.NewCount(1))
	got, err := drain[int](t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no chunks, got %v", got)
	}
	if !src.Closed() || src.Position() != 1 {
		t.Fatalf("unexpected source state closed=%v pos=%d", src.Closed(), src.Position())
	}
}

func TestSequentialDeferredDrains(t *testing.T) {
	l := eventloop.NewLoop()
	defer l.Close()

	s, _ := Sequential(20, l, strategy.NewCount(4))
	got, err := drain[int](t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 chunks, got %d", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

// flaky fails its Read after failAfter chunks.
type flaky struct {
	*source.Sequential
	failAfter int
	reads     int
	openErr   error
	err       error
}

func (f *flaky) Open() *eventloop.Future[struct{}] {
	if f.openErr != nil {
		return eventloop.Rejected[struct{}](f.openErr)
	}
	return f.Sequential.Open()
}

func (f *flaky) Read() *eventloop.Future[source.ReadResult[int]] {
	f.reads++
	if f.reads > f.failAfter {
		return eventloop.Rejected[source.ReadResult[int]](f.err)
	}
	return f.Sequential.Read()
}

func TestReadErrorFailsDrainAndIsJournaled(t *testing.T) {
	ctx := context.Background()
	store, err := audit.Open(ctx, filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	boom := errors.New("disk on fire")
	src := &flaky{Sequential: source.NewSequential(10, nil), failAfter: 2, err: boom}
	s, a := NewStream[int](src, strategy.NewCount(0), WithJournal(store), WithName("flaky"))

	if _, err := drain[int](t, s); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.State() != stream.Errored {
		t.Fatalf("expected errored stream, got %s", s.State())
	}

	counts, err := store.Counts(ctx, a.StreamID())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[audit.EventStart] != 1 || counts[audit.EventEnqueue] != 2 || counts[audit.EventError] != 1 {
		t.Fatalf("unexpected journal counts: %v", counts)
	}
	records, err := store.List(ctx, a.StreamID())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	last := records[len(records)-1]
	if last.Event != audit.EventError || last.Error != boom.Error() || last.Source != "flaky" {
		t.Fatalf("unexpected last record: %+v", last)
	}
}

func TestOpenErrorRejectsStart(t *testing.T) {
	noOpen := errors.New("no such source")
	src := &flaky{Sequential: source.NewSequential(3, nil), failAfter: 3, openErr: noOpen}
	a := New[int](src)
	if _, err := a.Start().Wait(context.Background()); !errors.Is(err, noOpen) {
		t.Fatalf("expected start rejection, got %v", err)
	}

	s := stream.New[int](New[int](src), nil)
	if _, err := drain[int](t, s); !errors.Is(err, noOpen) {
		t.Fatalf("expected drain failure, got %v", err)
	}
}

func TestJournalRecordsFullLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := audit.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	s, _ := Sequential(3, nil, nil, WithJournal(store), WithStreamID("fixed"))
	if _, err := drain[int](t, s); err != nil {
		t.Fatalf("drain: %v", err)
	}

	records, err := store.List(ctx, "fixed")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var events []audit.Event
	var chunks []string
	for i, r := range records {
		if r.Seq != i {
			t.Fatalf("seq gap at %d: %+v", i, r)
		}
		events = append(events, r.Event)
		if r.Chunk != "" {
			chunks = append(chunks, r.Chunk)
		}
	}
	want := []audit.Event{audit.EventStart, audit.EventEnqueue, audit.EventEnqueue, audit.EventEnqueue, audit.EventFinish}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events %v", events)
	}
	if !reflect.DeepEqual(chunks, []string{"1", "2", "3"}) {
		t.Fatalf("unexpected chunks %v", chunks)
	}
}

func TestCancelClosesSource(t *testing.T) {
	s, src := Sequential(10, nil, strategy.NewCount(2))
	if _, err := s.Cancel(errors.New("stop")).Wait(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !src.Closed() || s.State() != stream.Closed {
		t.Fatalf("cancel did not close source/stream: %v %s", src.Closed(), s.State())
	}
	got, err := drain[int](t, s)
	if err != nil || len(got) != 0 {
		t.Fatalf("canceled stream should drain empty, got %v %v", got, err)
	}
}
