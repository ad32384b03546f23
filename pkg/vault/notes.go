package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
)

const noteTimeLayout = time.RFC3339

// Note is a private note.
type Note struct {
	ID        int64
	OwnerID   int64
	Title     string
	Content   string
	Timestamp time.Time // last save
}

// NoteInput holds the editable fields of a Note.
type NoteInput struct {
	Title   string
	Content string
}

func (in NoteInput) validate() error {
	var c fieldCheck
	c.required("title", in.Title)
	c.required("content", in.Content)
	c.line("title", in.Title)
	c.text("content", in.Content)
	return c.result()
}

// CreateNote stores a note for the session owner and returns its id.
func (v *Vault) CreateNote(ctx context.Context, in NoteInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		var err error
		id, err = v.insertNote(ctx, tx, p, in)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// insertNote seals and inserts a validated note and records its audit event.
func (v *Vault) insertNote(ctx context.Context, tx store.DBTX, p session.Principal, in NoteInput) (int64, error) {
	s := fieldSealer{key: p.Key}
	title, content := s.seal(in.Title), s.seal(in.Content)
	ts := s.seal(v.now().UTC().Format(noteTimeLayout))
	if s.err != nil {
		return 0, s.err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO notes(id_user, title, content, note_timestamp) VALUES(?, ?, ?, ?)",
		p.IdentityID, title, content, ts)
	if err != nil {
		return 0, fmt.Errorf("vault: failed to insert note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, v.record(ctx, tx, p, audit.Detail(audit.OpNoteCreate, id))
}

// ListNotes returns every note of the session owner.
func (v *Vault) ListNotes(ctx context.Context) ([]Note, error) {
	var notes []Note
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id_note, title, content, note_timestamp FROM notes WHERE id_user = ? ORDER BY id_note",
			p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to query notes: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var title, content, ts []byte
			if err := rows.Scan(&id, &title, &content, &ts); err != nil {
				return fmt.Errorf("vault: failed to scan note: %w", err)
			}

			o := fieldOpener{key: p.Key}
			n := Note{ID: id, OwnerID: p.IdentityID, Title: o.open(title), Content: o.open(content)}
			tsText := o.open(ts)
			if o.err != nil {
				return rowError("note", id, o.err)
			}
			if n.Timestamp, err = time.Parse(noteTimeLayout, tsText); err != nil {
				return rowError("note", id, err)
			}
			notes = append(notes, n)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.OpNoteList)
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// UpdateNote overwrites a note's title and content and refreshes its timestamp.
func (v *Vault) UpdateNote(ctx context.Context, id int64, in NoteInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		title, content := s.seal(in.Title), s.seal(in.Content)
		ts := s.seal(v.now().UTC().Format(noteTimeLayout))
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE notes SET title = ?, content = ?, note_timestamp = ? WHERE id_note = ? AND id_user = ?",
			title, content, ts, id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to update note: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpNoteUpdate, id))
	})
}

// DeleteNote removes a note.
func (v *Vault) DeleteNote(ctx context.Context, id int64) error {
	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM notes WHERE id_note = ? AND id_user = ?", id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete note: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpNoteDelete, id))
	})
}
