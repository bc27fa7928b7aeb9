// Package note models the note corpus the indexing pipeline reads from and
// writes index flags back to.
package note

import "time"

// Note is a single note record. Content is the raw markdown body.
type Note struct {
	ID                   int64
	AccountID            int64
	Content              string
	IsIndexed            bool
	IsAttachmentsIndexed bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Attachment is a file attached to a note. Path is the blob-store
// reference resolvable to a locally readable file.
type Attachment struct {
	ID        int64
	NoteID    int64
	Path      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
