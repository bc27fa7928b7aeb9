// Package vector implements the persistent nearest-neighbor store on
// PostgreSQL + pgvector.
//
// Records live in one table per collection, created lazily on first use.
// Identity is index-assigned; deletion is always by source id and removes
// every chunk record belonging to that source.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"
)

// Source kinds recorded on index entries.
const (
	SourceKindNote       = "note"
	SourceKindAttachment = "attachment"
)

// ErrArityMismatch indicates vectors and metadata of different lengths were
// passed to Upsert.
var ErrArityMismatch = errors.New("vectors and metadata must have equal length")

// ErrBadCollection indicates a collection name unusable as an identifier.
var ErrBadCollection = errors.New("invalid collection name")

var collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// Meta is the metadata persisted next to each embedding.
type Meta struct {
	SourceID   int64
	SourceKind string
	Text       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Hit is a similarity search result.
type Hit struct {
	Meta  Meta
	Score float64
}

// Index is a named-collection vector store. It is safe for concurrent use;
// lazy collection creation is guarded so racing first writers cannot create
// conflicting schemas.
type Index struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger

	sf    singleflight.Group
	ready sync.Map // collection name -> struct{}
}

// New creates an Index storing dim-dimensional embeddings.
func New(pool *pgxpool.Pool, dim int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{pool: pool, dim: dim, logger: logger}
}

// tableFor maps a collection name to its backing table identifier.
func tableFor(collection string) (string, error) {
	if !collectionPattern.MatchString(collection) {
		return "", fmt.Errorf("%w: %q", ErrBadCollection, collection)
	}
	return "vectors_" + collection, nil
}

// ensure creates the collection's table and indexes if they do not exist.
// Idempotent and race-safe: concurrent first use collapses into a single
// schema creation.
func (ix *Index) ensure(ctx context.Context, collection string) (string, error) {
	table, err := tableFor(collection)
	if err != nil {
		return "", err
	}

	if _, ok := ix.ready.Load(collection); ok {
		return table, nil
	}

	_, err, _ = ix.sf.Do(collection, func() (any, error) {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				source_id BIGINT NOT NULL,
				source_kind TEXT NOT NULL DEFAULT '%s',
				content TEXT NOT NULL,
				embedding vector(%d) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS %s_source_id_idx ON %s (source_id);`,
			table, SourceKindNote, ix.dim, table, table)

		if _, execErr := ix.pool.Exec(ctx, ddl); execErr != nil {
			return nil, fmt.Errorf("creating collection %q: %w", collection, execErr)
		}

		ix.ready.Store(collection, struct{}{})
		ix.logger.Debug("vector collection ready", "collection", collection, "dimension", ix.dim)
		return nil, nil
	})
	if err != nil {
		return "", err
	}

	return table, nil
}

// Upsert replaces all records for the sources named in metas with the given
// vectors. It runs in one transaction: on failure the sources' prior
// records remain untouched, never a half-written mix.
func (ix *Index) Upsert(ctx context.Context, collection string, vectors [][]float32, metas []Meta) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata", ErrArityMismatch, len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return nil
	}

	table, err := ix.ensure(ctx, collection)
	if err != nil {
		return err
	}

	sourceIDs := distinctSourceIDs(metas)

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Delete-then-insert keeps the operation atomic per source.
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE source_id = ANY($1)`, table), sourceIDs); err != nil {
		return fmt.Errorf("clearing prior records: %w", err)
	}

	batch := &pgx.Batch{}
	insert := fmt.Sprintf(
		`INSERT INTO %s (source_id, source_kind, content, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`, table)
	for i, meta := range metas {
		batch.Queue(insert,
			meta.SourceID, meta.SourceKind, meta.Text,
			pgvector.NewVector(vectors[i]), meta.CreatedAt, meta.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	ix.logger.Debug("upserted vectors",
		"collection", collection, "records", len(metas), "sources", len(sourceIDs))
	return nil
}

// Query returns the topK records nearest to vec, ordered by cosine
// similarity descending.
func (ix *Index) Query(ctx context.Context, collection string, vec []float32, topK int) ([]Hit, error) {
	table, err := ix.ensure(ctx, collection)
	if err != nil {
		return nil, err
	}

	rows, err := ix.pool.Query(ctx, fmt.Sprintf(
		`SELECT source_id, source_kind, content, created_at, updated_at,
		        1 - (embedding <=> $1) AS score
		 FROM %s
		 ORDER BY embedding <=> $1
		 LIMIT $2`, table),
		pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("querying collection %q: %w", collection, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Meta.SourceID, &h.Meta.SourceKind, &h.Meta.Text,
			&h.Meta.CreatedAt, &h.Meta.UpdatedAt, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading hits: %w", err)
	}

	return hits, nil
}

// DeleteBySource removes all records whose source id matches. Deleting a
// source with no records is a no-op, not an error.
func (ix *Index) DeleteBySource(ctx context.Context, collection string, sourceID int64) error {
	table, err := ix.ensure(ctx, collection)
	if err != nil {
		return err
	}

	tag, err := ix.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE source_id = $1`, table), sourceID)
	if err != nil {
		return fmt.Errorf("deleting source %d: %w", sourceID, err)
	}

	ix.logger.Debug("deleted source records",
		"collection", collection, "source_id", sourceID, "records", tag.RowsAffected())
	return nil
}

// Truncate removes every record in the collection. Used for full wipes and
// corruption recovery.
func (ix *Index) Truncate(ctx context.Context, collection string) error {
	table, err := ix.ensure(ctx, collection)
	if err != nil {
		return err
	}

	if _, err := ix.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, table)); err != nil {
		return fmt.Errorf("truncating collection %q: %w", collection, err)
	}

	ix.logger.Info("truncated vector collection", "collection", collection)
	return nil
}

func distinctSourceIDs(metas []Meta) []int64 {
	seen := make(map[int64]struct{}, len(metas))
	ids := make([]int64, 0, len(metas))
	for _, m := range metas {
		if _, ok := seen[m.SourceID]; ok {
			continue
		}
		seen[m.SourceID] = struct{}{}
		ids = append(ids, m.SourceID)
	}
	return ids
}
