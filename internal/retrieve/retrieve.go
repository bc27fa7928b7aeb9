// Package retrieve answers "which notes are relevant to this question".
//
// At query time it embeds the question, searches the vector index,
// thresholds and re-ranks the hits, and resolves the surviving source ids
// back to full notes scoped to the requesting account.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/qaz741wsd856/blinko/internal/note"
	"github.com/qaz741wsd856/blinko/internal/vector"
)

// Embedder embeds the query string.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of the vector index.
type Searcher interface {
	Query(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Hit, error)
}

// NoteResolver resolves source ids to notes owned by accountID. Records
// belonging to other accounts must never come back, regardless of score.
type NoteResolver interface {
	NotesByIDs(ctx context.Context, ids []int64, accountID int64) ([]note.Note, error)
}

// Config holds the retrieval knobs.
type Config struct {
	// Collection is the vector collection holding the note corpus.
	Collection string

	// TopK is how many nearest records to fetch before filtering.
	TopK int

	// ScoreThreshold drops hits scoring at or below this value.
	ScoreThreshold float64
}

// Engine performs similarity retrieval over the note corpus.
type Engine struct {
	embedder Embedder
	index    Searcher
	notes    NoteResolver
	cfg      Config
	logger   *slog.Logger
}

// New creates a retrieval engine.
func New(embedder Embedder, index Searcher, notes NoteResolver, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		notes:    notes,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns the notes most relevant to query, best match first. The
// result is bounded by how many distinct sources survive the score
// threshold; it may be empty.
func (e *Engine) Retrieve(ctx context.Context, query string, accountID int64) ([]note.Note, error) {
	queryVec, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := e.index.Query(ctx, e.cfg.Collection, queryVec, e.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	// Drop hits at or below the threshold, then order by score descending.
	// The sort is stable so equal scores keep the index's original order.
	filtered := hits[:0:0]
	for _, h := range hits {
		if h.Score > e.cfg.ScoreThreshold {
			filtered = append(filtered, h)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	if len(filtered) == 0 {
		return nil, nil
	}

	// A note may match through several chunks; its first (best) score wins.
	bestScore := make(map[int64]float64, len(filtered))
	order := make(map[int64]int, len(filtered))
	ids := make([]int64, 0, len(filtered))
	for _, h := range filtered {
		id := h.Meta.SourceID
		if _, seen := bestScore[id]; seen {
			continue
		}
		bestScore[id] = h.Score
		order[id] = len(ids)
		ids = append(ids, id)
	}

	notes, err := e.notes.NotesByIDs(ctx, ids, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolving notes: %w", err)
	}

	sort.SliceStable(notes, func(i, j int) bool {
		si, sj := bestScore[notes[i].ID], bestScore[notes[j].ID]
		if si != sj {
			return si > sj
		}
		return order[notes[i].ID] < order[notes[j].ID]
	})

	e.logger.Debug("retrieval complete",
		"hits", len(hits), "above_threshold", len(filtered),
		"distinct_sources", len(ids), "resolved", len(notes))

	return notes, nil
}
