package note

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoteNotFound indicates the requested note does not exist.
var ErrNoteNotFound = errors.New("note not found")

// PGStore is the PostgreSQL-backed corpus store. It satisfies the consumer
// interfaces declared by the indexer, rebuild and retrieve packages.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates a corpus store on pool.
func NewPGStore(pool *pgxpool.Pool, logger *slog.Logger) *PGStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, logger: logger}
}

const noteColumns = `id, account_id, content, is_indexed, is_attachments_indexed, created_at, updated_at`

func scanNote(row pgx.Row) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.AccountID, &n.Content,
		&n.IsIndexed, &n.IsAttachmentsIndexed, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

// GetNote fetches one note by id.
func (s *PGStore) GetNote(ctx context.Context, id int64) (Note, error) {
	n, err := scanNote(s.pool.QueryRow(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, fmt.Errorf("%w: id %d", ErrNoteNotFound, id)
	}
	if err != nil {
		return Note{}, fmt.Errorf("fetching note %d: %w", id, err)
	}
	return n, nil
}

// ListNotes returns the whole note corpus ordered by primary key ascending,
// the stable order the rebuild job iterates in.
func (s *PGStore) ListNotes(ctx context.Context) ([]Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+noteColumns+` FROM notes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading notes: %w", err)
	}
	return notes, nil
}

// NotesByIDs resolves ids to full notes scoped to accountID. Notes
// belonging to other accounts are silently excluded (tenant isolation).
func (s *PGStore) NotesByIDs(ctx context.Context, ids []int64, accountID int64) ([]Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ANY($1) AND account_id = $2`,
		ids, accountID)
	if err != nil {
		return nil, fmt.Errorf("resolving notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading notes: %w", err)
	}
	return notes, nil
}

// MarkIndexed records that a note's content (and optionally its
// attachments) has been embedded. Best-effort from the caller's
// perspective; the embedding side effect is already authoritative.
func (s *PGStore) MarkIndexed(ctx context.Context, id int64, attachments bool) error {
	var err error
	if attachments {
		_, err = s.pool.Exec(ctx,
			`UPDATE notes SET is_indexed = TRUE, is_attachments_indexed = TRUE WHERE id = $1`, id)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE notes SET is_indexed = TRUE WHERE id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("marking note %d indexed: %w", id, err)
	}
	return nil
}

// ListAttachments returns all attachments ordered by primary key ascending.
func (s *PGStore) ListAttachments(ctx context.Context) ([]Attachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, note_id, path, name, created_at, updated_at
		 FROM attachments ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.NoteID, &a.Path, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading attachments: %w", err)
	}
	return attachments, nil
}
