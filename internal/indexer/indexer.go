// Package indexer orchestrates chunk → embed → upsert for a single note or
// attachment.
//
// The service enforces the tag-based exclusion policy, guarantees idempotent
// re-indexing on update (stale chunks from a longer previous version never
// linger) and serializes concurrent operations per source id.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/qaz741wsd856/blinko/internal/chunk"
	"github.com/qaz741wsd856/blinko/internal/note"
	"github.com/qaz741wsd856/blinko/internal/vector"
)

// ErrNotFound indicates the source note was missing when indexing an
// attachment.
var ErrNotFound = errors.New("source note not found")

// Mode distinguishes first-time indexing from re-indexing after an edit.
type Mode string

const (
	ModeInsert Mode = "insert"
	ModeUpdate Mode = "update"
)

// Status classifies the outcome of an indexing operation. Skipped-by-policy
// is distinct from failure.
type Status int

const (
	StatusIndexed Status = iota
	StatusSkipped
	StatusFailed
)

// String returns the progress-event label for the status.
func (s Status) String() string {
	switch s {
	case StatusIndexed:
		return "indexed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports an indexing outcome. Err is set only for StatusFailed.
type Result struct {
	Status Status
	Chunks int
	Err    error
}

// NoteRequest asks for a note's content to be (re-)indexed.
type NoteRequest struct {
	SourceID  int64
	Content   string
	Mode      Mode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttachmentRequest asks for an attachment's extracted text to be indexed.
// FilePath must already be locally readable (blob store resolution is the
// caller's concern).
type AttachmentRequest struct {
	SourceID  int64 // owning note id
	FilePath  string
	UpdatedAt time.Time
}

// Chunker splits raw text into bounded chunks.
type Chunker interface {
	Split(text string) []chunk.Chunk
}

// Embedder batches chunk text into vectors.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the slice of the vector index the service writes to.
type VectorWriter interface {
	Upsert(ctx context.Context, collection string, vectors [][]float32, metas []vector.Meta) error
	DeleteBySource(ctx context.Context, collection string, sourceID int64) error
}

// FileLoader resolves an attachment path to plain text.
type FileLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// NoteFlags is the write-back surface on the note store: fetching the
// source note and recording the indexed flag.
type NoteFlags interface {
	GetNote(ctx context.Context, id int64) (note.Note, error)
	MarkIndexed(ctx context.Context, id int64, attachments bool) error
}

// Config holds the service's policy knobs.
type Config struct {
	// Collection is the vector collection holding the note corpus.
	Collection string

	// ExcludeTagName skips indexing for content containing this tag name.
	// The match is a literal substring test against the content, exactly as
	// the product behaves: a note merely mentioning the tag's name is
	// excluded even without being tagged.
	ExcludeTagName string
}

// Service implements the indexing pipeline for single sources.
type Service struct {
	chunker  Chunker
	embedder Embedder
	index    VectorWriter
	loader   FileLoader
	notes    NoteFlags
	cfg      Config
	logger   *slog.Logger

	locks keyedMutex
}

// New creates an indexing service. loader and notes may be nil when
// attachment indexing or flag write-back are not wired (tests, partial
// deployments); the corresponding steps degrade gracefully.
func New(chunker Chunker, embedder Embedder, index VectorWriter, loader FileLoader, notes NoteFlags, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		loader:   loader,
		notes:    notes,
		cfg:      cfg,
		logger:   logger,
	}
}

// IndexNote chunks, embeds and upserts one note's content.
func (s *Service) IndexNote(ctx context.Context, req NoteRequest) Result {
	unlock := s.locks.lock(req.SourceID)
	defer unlock()

	if s.excluded(req.Content) {
		s.logger.Warn("note excluded from embedding by tag policy",
			"source_id", req.SourceID, "tag", s.cfg.ExcludeTagName)
		return Result{Status: StatusSkipped}
	}

	if req.Mode == ModeUpdate {
		if err := s.index.DeleteBySource(ctx, s.cfg.Collection, req.SourceID); err != nil {
			return Result{Status: StatusFailed, Err: fmt.Errorf("clearing stale records: %w", err)}
		}
	}

	chunks := s.chunker.Split(req.Content)
	if len(chunks) == 0 {
		// Vacuously indexed; the flag is still recorded.
		s.markIndexed(ctx, req.SourceID, false)
		return Result{Status: StatusIndexed}
	}

	vectors, err := s.embedder.EmbedMany(ctx, augment(chunks, req.CreatedAt, req.UpdatedAt))
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	metas := make([]vector.Meta, len(chunks))
	for i, c := range chunks {
		metas[i] = vector.Meta{
			SourceID:   req.SourceID,
			SourceKind: vector.SourceKindNote,
			Text:       c.Text,
			CreatedAt:  req.CreatedAt,
			UpdatedAt:  req.UpdatedAt,
		}
	}
	if err := s.index.Upsert(ctx, s.cfg.Collection, vectors, metas); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	s.markIndexed(ctx, req.SourceID, false)

	return Result{Status: StatusIndexed, Chunks: len(chunks)}
}

// IndexAttachment extracts an attachment's text and indexes it under the
// owning note's id with attachment-kind metadata.
func (s *Service) IndexAttachment(ctx context.Context, req AttachmentRequest) Result {
	unlock := s.locks.lock(req.SourceID)
	defer unlock()

	if s.notes != nil {
		if _, err := s.notes.GetNote(ctx, req.SourceID); err != nil {
			if errors.Is(err, note.ErrNoteNotFound) {
				return Result{Status: StatusFailed, Err: fmt.Errorf("%w: note %d", ErrNotFound, req.SourceID)}
			}
			return Result{Status: StatusFailed, Err: err}
		}
	}

	if s.loader == nil {
		return Result{Status: StatusFailed, Err: errors.New("no file loader configured")}
	}

	content, err := s.loader.Load(ctx, req.FilePath)
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	if s.excluded(content) {
		return Result{Status: StatusSkipped}
	}

	chunks := s.chunker.Split(content)
	if len(chunks) == 0 {
		s.markIndexed(ctx, req.SourceID, true)
		return Result{Status: StatusIndexed}
	}

	// Attachments carry only their update timestamp for both temporal
	// markers, matching the shipped behavior.
	vectors, err := s.embedder.EmbedMany(ctx, augment(chunks, req.UpdatedAt, req.UpdatedAt))
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	metas := make([]vector.Meta, len(chunks))
	for i, c := range chunks {
		metas[i] = vector.Meta{
			SourceID:   req.SourceID,
			SourceKind: vector.SourceKindAttachment,
			Text:       c.Text,
			CreatedAt:  req.UpdatedAt,
			UpdatedAt:  req.UpdatedAt,
		}
	}
	if err := s.index.Upsert(ctx, s.cfg.Collection, vectors, metas); err != nil {
		return Result{Status: StatusFailed, Err: err}
	}

	s.markIndexed(ctx, req.SourceID, true)

	return Result{Status: StatusIndexed, Chunks: len(chunks)}
}

// DeleteIndex removes every index record for the source.
func (s *Service) DeleteIndex(ctx context.Context, sourceID int64) error {
	unlock := s.locks.lock(sourceID)
	defer unlock()

	return s.index.DeleteBySource(ctx, s.cfg.Collection, sourceID)
}

// excluded applies the tag exclusion policy: a literal substring test of
// the tag name against the content.
func (s *Service) excluded(content string) bool {
	return s.cfg.ExcludeTagName != "" && strings.Contains(content, s.cfg.ExcludeTagName)
}

// markIndexed records the indexed flag best-effort: a failed write-back is
// logged, never surfaced, since the embedding side effect already succeeded
// and is authoritative.
func (s *Service) markIndexed(ctx context.Context, id int64, attachments bool) {
	if s.notes == nil {
		return
	}
	if err := s.notes.MarkIndexed(ctx, id, attachments); err != nil {
		s.logger.Warn("failed to record indexed flag", "source_id", id, "error", err)
	}
}

// augment appends the source timestamps to each chunk's text so vector
// hits carry temporal context usable at retrieval time.
func augment(chunks []chunk.Chunk, created, updated time.Time) []string {
	texts := make([]string, len(chunks))
	suffix := "Create At: " + created.UTC().Format(time.RFC3339) +
		" Update At: " + updated.UTC().Format(time.RFC3339)
	for i, c := range chunks {
		texts[i] = c.Text + suffix
	}
	return texts
}

// keyedMutex serializes operations per source id, closing the gap where
// two racing updates to the same note could interleave delete and insert.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*lockEntry)
	}
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
