package retrieve_test

import (
	"context"
	"testing"
	"time"

	"github.com/qaz741wsd856/blinko/internal/chunk"
	"github.com/qaz741wsd856/blinko/internal/indexer"
	"github.com/qaz741wsd856/blinko/internal/log"
	"github.com/qaz741wsd856/blinko/internal/note"
	"github.com/qaz741wsd856/blinko/internal/retrieve"
	"github.com/qaz741wsd856/blinko/internal/testutil"
	"github.com/qaz741wsd856/blinko/internal/vector"
)

// TestPipelineRoundTrip drives the whole path against a real database:
// index two notes, then retrieve with the exact text of one of them. The
// deterministic embedder maps identical text to identical vectors, so the
// matching note must come back first with a near-perfect score.
func TestPipelineRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := log.NewNop()
	embedder := testutil.NewFakeEmbedder(16)
	index := vector.New(db.Pool, 16, logger)
	store := note.NewPGStore(db.Pool, logger)

	svc := indexer.New(
		chunk.NewSplitter(chunk.DefaultSize, chunk.DefaultOverlap),
		embedder, index, nil, store,
		indexer.Config{Collection: "pipeline"},
		logger,
	)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var ids []int64
	for _, content := range []string{
		"groceries: milk, eggs, bread",
		"meeting notes from the architecture review",
	} {
		var id int64
		err := db.Pool.QueryRow(ctx,
			`INSERT INTO notes (account_id, content, created_at, updated_at)
			 VALUES (1, $1, $2, $2) RETURNING id`, content, now).Scan(&id)
		if err != nil {
			t.Fatalf("seeding note: %v", err)
		}
		ids = append(ids, id)

		res := svc.IndexNote(ctx, indexer.NoteRequest{
			SourceID:  id,
			Content:   content,
			Mode:      indexer.ModeInsert,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if res.Status != indexer.StatusIndexed {
			t.Fatalf("indexing %q: %v", content, res.Err)
		}
	}

	engine := retrieve.New(embedder, index, store, retrieve.Config{
		Collection:     "pipeline",
		TopK:           20,
		ScoreThreshold: 0.3,
	}, logger)

	// The query must be augmented exactly like the indexed chunk was so the
	// fake embedder produces the identical vector.
	query := "groceries: milk, eggs, bread" +
		"Create At: 2024-06-01T12:00:00Z Update At: 2024-06-01T12:00:00Z"

	notes, err := engine.Retrieve(ctx, query, 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(notes) == 0 {
		t.Fatal("no notes retrieved")
	}
	if notes[0].ID != ids[0] {
		t.Errorf("best note = %d, want the groceries note %d", notes[0].ID, ids[0])
	}

	// A different account sees nothing regardless of vector similarity.
	other, err := engine.Retrieve(ctx, query, 2)
	if err != nil {
		t.Fatalf("Retrieve for other account: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("tenant isolation breached: %+v", other)
	}

	// The indexed flag was written back.
	n, err := store.GetNote(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if !n.IsIndexed {
		t.Error("note not flagged indexed after the pipeline ran")
	}
}
