// Package rebuild implements the full-corpus re-indexing job.
//
// The job is single-flight: only one rebuild runs at a time system-wide.
// A forced restart supersedes the current run through a monotonic
// generation counter: the old generation may finish its in-flight item,
// but only the latest generation's bookkeeping (progress counters and the
// final running flag) is honored.
package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/qaz741wsd856/blinko/internal/indexer"
	"github.com/qaz741wsd856/blinko/internal/note"
)

// Corpus lists the full set of sources the rebuild iterates, in stable
// primary-key-ascending order.
type Corpus interface {
	ListNotes(ctx context.Context) ([]note.Note, error)
	ListAttachments(ctx context.Context) ([]note.Attachment, error)
}

// Indexer is the per-item indexing surface the job drives.
type Indexer interface {
	IndexNote(ctx context.Context, req indexer.NoteRequest) indexer.Result
	IndexAttachment(ctx context.Context, req indexer.AttachmentRequest) indexer.Result
}

// Wiper optionally truncates the vector collection before a forced
// rebuild, wiping records whose sources no longer exist.
type Wiper interface {
	Truncate(ctx context.Context, collection string) error
}

// Progress is a point-in-time snapshot of the running (or last) rebuild.
// It freezes at the point of failure for postmortem; it is never rolled
// back to a prior value.
type Progress struct {
	RunID     string
	Current   int
	Total     int
	Running   bool
	StartedAt time.Time
}

// Percentage returns completion as 0-100. A zero total reports zero.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job re-indexes the entire corpus while reporting incremental progress.
type Job struct {
	corpus     Corpus
	idx        Indexer
	wiper      Wiper
	collection string
	limiter    *rate.Limiter
	logger     *slog.Logger

	generation atomic.Int64

	mu       sync.Mutex
	progress Progress
}

// New creates a rebuild job. wiper may be nil to disable the pre-wipe on
// forced rebuilds; limiter may be nil for unpaced embedding calls.
func New(corpus Corpus, idx Indexer, wiper Wiper, collection string, limiter *rate.Limiter, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		corpus:     corpus,
		idx:        idx,
		wiper:      wiper,
		collection: collection,
		limiter:    limiter,
		logger:     logger,
	}
}

// Progress returns the current snapshot, suitable for a polling consumer.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Start begins a rebuild pass and returns its event stream.
//
// If a rebuild is already running and force is false, Start returns
// (nil, false) without disturbing the running pass. With force it bumps the
// generation, resets the progress counters and starts a fresh full pass;
// the superseded run's remaining writes are disregarded.
func (j *Job) Start(ctx context.Context, force bool) (*Stream, bool) {
	j.mu.Lock()
	if j.progress.Running && !force {
		j.mu.Unlock()
		return nil, false
	}

	gen := j.generation.Add(1)
	j.progress = Progress{
		RunID:     uuid.NewString(),
		Running:   true,
		StartedAt: time.Now(),
	}
	runID := j.progress.RunID
	j.mu.Unlock()

	stream := newStream()
	j.logger.Info("rebuild started", "run_id", runID, "force", force, "generation", gen)

	go j.run(ctx, gen, force, stream)

	return stream, true
}

func (j *Job) run(ctx context.Context, gen int64, force bool, stream *Stream) {
	defer stream.close()
	defer j.finish(gen)

	stream.emit(Event{Type: EventInfo, Message: "rebuilding embedding index"})

	if force && j.wiper != nil {
		if err := j.wiper.Truncate(ctx, j.collection); err != nil {
			// The pass still proceeds: per-source upserts replace records
			// anyway, the wipe only clears orphans.
			j.logger.Warn("failed to truncate collection before rebuild", "error", err)
			stream.emit(Event{Type: EventError, Message: fmt.Sprintf("truncate failed: %v", err)})
		}
	}

	notes, err := j.corpus.ListNotes(ctx)
	if err != nil {
		j.logger.Error("rebuild failed to list notes", "error", err)
		stream.emit(Event{Type: EventError, Message: fmt.Sprintf("listing notes: %v", err)})
		return
	}
	attachments, err := j.corpus.ListAttachments(ctx)
	if err != nil {
		j.logger.Error("rebuild failed to list attachments", "error", err)
		stream.emit(Event{Type: EventError, Message: fmt.Sprintf("listing attachments: %v", err)})
		return
	}

	total := len(notes) + len(attachments)
	j.setTotal(gen, total)

	processed := 0
	for _, n := range notes {
		if !j.pace(ctx, stream, processed, total) {
			return
		}

		res := j.idx.IndexNote(ctx, indexer.NoteRequest{
			SourceID:  n.ID,
			Content:   n.Content,
			Mode:      indexer.ModeUpdate,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		})
		processed++
		j.advance(gen, processed)
		stream.emit(itemEvent(res, fmt.Sprintf("note %d", n.ID), processed, total))
	}

	for _, a := range attachments {
		if !j.pace(ctx, stream, processed, total) {
			return
		}

		res := j.idx.IndexAttachment(ctx, indexer.AttachmentRequest{
			SourceID:  a.NoteID,
			FilePath:  a.Path,
			UpdatedAt: a.UpdatedAt,
		})
		processed++
		j.advance(gen, processed)
		stream.emit(itemEvent(res, fmt.Sprintf("attachment %d (note %d)", a.ID, a.NoteID), processed, total))
	}

	stream.emit(Event{
		Type:    EventInfo,
		Message: fmt.Sprintf("rebuild complete: %d items", total),
		Current: processed,
		Total:   total,
	})
	j.logger.Info("rebuild complete", "generation", gen, "items", total)
}

// pace applies the embedding rate limit. Returns false when the context is
// canceled, which aborts the pass.
func (j *Job) pace(ctx context.Context, stream *Stream, processed, total int) bool {
	if j.limiter == nil {
		return true
	}
	if err := j.limiter.Wait(ctx); err != nil {
		stream.emit(Event{
			Type:    EventError,
			Message: fmt.Sprintf("rebuild aborted: %v", err),
			Current: processed,
			Total:   total,
		})
		return false
	}
	return true
}

// itemEvent maps a per-item indexing result to a progress event. Per-item
// failures become error events; the pass continues regardless.
func itemEvent(res indexer.Result, label string, current, total int) Event {
	e := Event{Current: current, Total: total}
	switch res.Status {
	case indexer.StatusIndexed:
		e.Type = EventSuccess
		e.Message = fmt.Sprintf("indexed %s (%d chunks)", label, res.Chunks)
	case indexer.StatusSkipped:
		e.Type = EventSkip
		e.Message = fmt.Sprintf("skipped %s by policy", label)
	default:
		e.Type = EventError
		e.Message = fmt.Sprintf("failed %s: %v", label, res.Err)
	}
	return e
}

// setTotal publishes the corpus size, only while this generation is the
// latest.
func (j *Job) setTotal(gen int64, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.generation.Load() == gen {
		j.progress.Total = total
	}
}

// advance publishes the processed count. The counter increments for every
// item regardless of per-item success, skip or failure, so progress always
// reaches the total.
func (j *Job) advance(gen int64, current int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.generation.Load() == gen {
		j.progress.Current = current
	}
}

// finish clears the running flag exactly once, at natural completion of the
// latest generation. A superseded generation leaves the flag alone.
func (j *Job) finish(gen int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.generation.Load() == gen {
		j.progress.Running = false
	}
}
