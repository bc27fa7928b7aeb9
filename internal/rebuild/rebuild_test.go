package rebuild

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/qaz741wsd856/blinko/internal/indexer"
	"github.com/qaz741wsd856/blinko/internal/log"
	"github.com/qaz741wsd856/blinko/internal/note"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCorpus struct {
	notes       []note.Note
	attachments []note.Attachment
	notesErr    error
}

func (f *fakeCorpus) ListNotes(context.Context) ([]note.Note, error) {
	return f.notes, f.notesErr
}

func (f *fakeCorpus) ListAttachments(context.Context) ([]note.Attachment, error) {
	return f.attachments, nil
}

type fakeIndexer struct {
	mu          sync.Mutex
	noteIDs     []int64
	attIDs      []int64
	failNoteID  int64
	skipNoteID  int64
	block       chan struct{} // when set, IndexNote waits on it
	blockedOnce sync.Once
	blocked     chan struct{} // closed the first time IndexNote blocks
}

func (f *fakeIndexer) IndexNote(_ context.Context, req indexer.NoteRequest) indexer.Result {
	if f.block != nil {
		f.blockedOnce.Do(func() { close(f.blocked) })
		<-f.block
	}

	f.mu.Lock()
	f.noteIDs = append(f.noteIDs, req.SourceID)
	f.mu.Unlock()

	switch req.SourceID {
	case f.failNoteID:
		return indexer.Result{Status: indexer.StatusFailed, Err: errors.New("embed failed")}
	case f.skipNoteID:
		return indexer.Result{Status: indexer.StatusSkipped}
	default:
		return indexer.Result{Status: indexer.StatusIndexed, Chunks: 1}
	}
}

func (f *fakeIndexer) IndexAttachment(_ context.Context, req indexer.AttachmentRequest) indexer.Result {
	f.mu.Lock()
	f.attIDs = append(f.attIDs, req.SourceID)
	f.mu.Unlock()
	return indexer.Result{Status: indexer.StatusIndexed, Chunks: 1}
}

type fakeWiper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeWiper) Truncate(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func drain(t *testing.T, s *Stream) []Event {
	t.Helper()
	var events []Event
	for {
		e, ok := s.Next()
		if !ok {
			return events
		}
		events = append(events, e)
	}
}

func someNotes(n int) []note.Note {
	notes := make([]note.Note, n)
	for i := range notes {
		notes[i] = note.Note{ID: int64(i + 1), Content: "note content"}
	}
	return notes
}

func TestRebuildFullPass(t *testing.T) {
	corpus := &fakeCorpus{
		notes: someNotes(3),
		attachments: []note.Attachment{
			{ID: 100, NoteID: 2, Path: "/blobs/a.pdf"},
		},
	}
	idx := &fakeIndexer{}
	job := New(corpus, idx, nil, "blinko", nil, log.NewNop())

	stream, ok := job.Start(context.Background(), false)
	if !ok {
		t.Fatal("Start returned false with no rebuild running")
	}

	events := drain(t, stream)

	if got := idx.noteIDs; len(got) != 3 {
		t.Errorf("indexed notes = %v, want 3", got)
	}
	if got := idx.attIDs; len(got) != 1 || got[0] != 2 {
		t.Errorf("indexed attachments by note id = %v, want [2]", got)
	}

	// One opening info, one terminal info, one event per item.
	var successes, infos int
	for _, e := range events {
		switch e.Type {
		case EventSuccess:
			successes++
		case EventInfo:
			infos++
		}
	}
	if successes != 4 {
		t.Errorf("success events = %d, want 4", successes)
	}
	if infos != 2 {
		t.Errorf("info events = %d, want 2", infos)
	}

	last := events[len(events)-1]
	if last.Current != 4 || last.Total != 4 {
		t.Errorf("terminal event progress = %d/%d, want 4/4", last.Current, last.Total)
	}

	p := job.Progress()
	if p.Running {
		t.Error("job still running after stream ended")
	}
	if p.Current != 4 || p.Total != 4 {
		t.Errorf("final progress = %d/%d, want 4/4", p.Current, p.Total)
	}
}

func TestRebuildPerItemFailureContinues(t *testing.T) {
	corpus := &fakeCorpus{notes: someNotes(3)}
	idx := &fakeIndexer{failNoteID: 2, skipNoteID: 3}
	job := New(corpus, idx, nil, "blinko", nil, log.NewNop())

	stream, _ := job.Start(context.Background(), false)
	events := drain(t, stream)

	var byType = map[EventType]int{}
	for _, e := range events {
		byType[e.Type]++
	}
	if byType[EventSuccess] != 1 || byType[EventError] != 1 || byType[EventSkip] != 1 {
		t.Errorf("event mix = %v, want one success, one error, one skip", byType)
	}

	// All three items processed despite the failure in the middle.
	if len(idx.noteIDs) != 3 {
		t.Errorf("processed %d notes, want 3", len(idx.noteIDs))
	}
	if p := job.Progress(); p.Current != 3 {
		t.Errorf("progress current = %d, failures must still advance it", p.Current)
	}
}

func TestRebuildListFailure(t *testing.T) {
	corpus := &fakeCorpus{notesErr: errors.New("db gone")}
	job := New(corpus, &fakeIndexer{}, nil, "blinko", nil, log.NewNop())

	stream, _ := job.Start(context.Background(), false)
	events := drain(t, stream)

	last := events[len(events)-1]
	if last.Type != EventError {
		t.Errorf("last event = %+v, want an error event", last)
	}
	if p := job.Progress(); p.Running {
		t.Error("job left running after list failure")
	}
}

func TestRebuildSingleFlight(t *testing.T) {
	release := make(chan struct{})
	idx := &fakeIndexer{block: release, blocked: make(chan struct{})}
	corpus := &fakeCorpus{notes: someNotes(2)}
	job := New(corpus, idx, nil, "blinko", nil, log.NewNop())

	stream1, ok := job.Start(context.Background(), false)
	if !ok {
		t.Fatal("first Start refused")
	}
	<-idx.blocked

	if s, ok := job.Start(context.Background(), false); ok || s != nil {
		t.Error("second Start accepted while a rebuild is running")
	}

	close(release)
	drain(t, stream1)

	// After completion a new rebuild is accepted again.
	stream2, ok := job.Start(context.Background(), false)
	if !ok {
		t.Fatal("Start refused after previous rebuild finished")
	}
	drain(t, stream2)
}

func TestRebuildForceRestartsAndWipes(t *testing.T) {
	release := make(chan struct{})
	idx := &fakeIndexer{block: release, blocked: make(chan struct{})}
	corpus := &fakeCorpus{notes: someNotes(2)}
	wiper := &fakeWiper{}
	job := New(corpus, idx, wiper, "blinko", nil, log.NewNop())

	stream1, _ := job.Start(context.Background(), false)
	<-idx.blocked
	firstRun := job.Progress().RunID

	stream2, ok := job.Start(context.Background(), true)
	if !ok {
		t.Fatal("forced Start refused")
	}

	p := job.Progress()
	if p.RunID == firstRun {
		t.Error("force did not reset the run id")
	}
	if p.Current != 0 {
		t.Errorf("force left current = %d, want reset to 0", p.Current)
	}
	if !p.Running {
		t.Error("job not marked running after forced restart")
	}

	close(release)
	drain(t, stream1)
	drain(t, stream2)

	wiper.mu.Lock()
	calls := wiper.calls
	wiper.mu.Unlock()
	if calls != 1 {
		t.Errorf("truncate calls = %d, want 1 (force only)", calls)
	}

	// The superseded run must not flip the running flag or counters of the
	// newer generation; after both streams end the final state is complete.
	final := job.Progress()
	if final.Running {
		t.Error("running flag set after all generations finished")
	}
	if final.Total != 2 {
		t.Errorf("final total = %d, want 2", final.Total)
	}
}

func TestRebuildTruncateFailureDoesNotAbort(t *testing.T) {
	corpus := &fakeCorpus{notes: someNotes(1)}
	wiper := &fakeWiper{err: errors.New("truncate denied")}
	idx := &fakeIndexer{}
	job := New(corpus, idx, wiper, "blinko", nil, log.NewNop())

	stream, _ := job.Start(context.Background(), true)
	events := drain(t, stream)

	var sawError, sawSuccess bool
	for _, e := range events {
		if e.Type == EventError {
			sawError = true
		}
		if e.Type == EventSuccess {
			sawSuccess = true
		}
	}
	if !sawError {
		t.Error("truncate failure produced no error event")
	}
	if !sawSuccess {
		t.Error("pass aborted after truncate failure; items were not indexed")
	}
}

func TestRebuildEmptyCorpus(t *testing.T) {
	job := New(&fakeCorpus{}, &fakeIndexer{}, nil, "blinko", nil, log.NewNop())

	stream, _ := job.Start(context.Background(), false)
	events := drain(t, stream)

	if len(events) == 0 {
		t.Fatal("no events for empty corpus, want at least the info frames")
	}
	if p := job.Progress(); p.Running || p.Total != 0 {
		t.Errorf("final progress = %+v", p)
	}
}

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		current, total int
		want           float64
	}{
		{0, 0, 0},
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
	}
	for _, tt := range tests {
		p := Progress{Current: tt.current, Total: tt.total}
		if got := p.Percentage(); got != tt.want {
			t.Errorf("Percentage(%d/%d) = %g, want %g", tt.current, tt.total, got, tt.want)
		}
	}
}

func TestStreamNextAfterClose(t *testing.T) {
	s := newStream()
	s.emit(Event{Type: EventInfo, Message: "one"})
	s.close()

	if e, ok := s.Next(); !ok || e.Message != "one" {
		t.Errorf("Next() = %+v, %v; queued events must survive close", e, ok)
	}
	if _, ok := s.Next(); ok {
		t.Error("Next() reported an event after the stream drained")
	}
}

func TestStreamBlocksUntilEmit(t *testing.T) {
	s := newStream()

	got := make(chan Event, 1)
	go func() {
		e, _ := s.Next()
		got <- e
	}()

	time.Sleep(10 * time.Millisecond)
	s.emit(Event{Type: EventSuccess, Message: "late"})
	s.close()

	select {
	case e := <-got:
		if e.Message != "late" {
			t.Errorf("got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake on emit")
	}
}
