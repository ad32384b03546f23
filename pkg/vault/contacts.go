package vault

import (
	"context"
	"fmt"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
)

// ContactBook groups contacts.
type ContactBook struct {
	ID      int64
	OwnerID int64
	Title   string
	Detail  string
}

// ContactBookInput holds the editable fields of a ContactBook.
type ContactBookInput struct {
	Title  string
	Detail string
}

func (in ContactBookInput) validate() error {
	var c fieldCheck
	c.required("title", in.Title)
	c.line("title", in.Title)
	c.text("detail", in.Detail)
	return c.result()
}

// Contact is an entry in a ContactBook.
type Contact struct {
	ID             int64
	BookID         int64
	FullName       string
	Address        string
	Email          string
	PhonePrimary   string
	PhoneSecondary string
	Webpage        string
	Detail         string
}

// ContactInput holds the editable fields of a Contact.
type ContactInput struct {
	FullName       string
	Address        string
	Email          string
	PhonePrimary   string
	PhoneSecondary string
	Webpage        string
	Detail         string
}

func (in ContactInput) validate() error {
	var c fieldCheck
	c.required("full_name", in.FullName)
	c.required("address", in.Address)
	c.required("email", in.Email)
	c.required("phone_primary", in.PhonePrimary)
	c.line("full_name", in.FullName)
	c.line("address", in.Address)
	c.line("email", in.Email)
	c.line("phone_primary", in.PhonePrimary)
	c.line("phone_secondary", in.PhoneSecondary)
	c.line("webpage", in.Webpage)
	c.text("detail", in.Detail)
	return c.result()
}

const ownedContactBook = "SELECT 1 FROM contact_book WHERE id_book = ? AND id_user = ?"

// CreateContactBook stores a contact book for the session owner.
func (v *Vault) CreateContactBook(ctx context.Context, in ContactBookInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		title, detail := s.seal(in.Title), s.seal(in.Detail)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO contact_book(id_user, title, detail) VALUES(?, ?, ?)",
			p.IdentityID, title, detail)
		if err != nil {
			return fmt.Errorf("vault: failed to insert contact book: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactBookCreate, id))
	})
	return id, err
}

// ListContactBooks returns every contact book of the session owner.
func (v *Vault) ListContactBooks(ctx context.Context) ([]ContactBook, error) {
	var books []ContactBook
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id_book, title, detail FROM contact_book WHERE id_user = ? ORDER BY id_book",
			p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to query contact books: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var title, detail []byte
			if err := rows.Scan(&id, &title, &detail); err != nil {
				return fmt.Errorf("vault: failed to scan contact book: %w", err)
			}

			o := fieldOpener{key: p.Key}
			b := ContactBook{ID: id, OwnerID: p.IdentityID, Title: o.open(title), Detail: o.open(detail)}
			if o.err != nil {
				return rowError("contact book", id, o.err)
			}
			books = append(books, b)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.OpContactBookList)
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateContactBook overwrites a contact book's title and detail.
func (v *Vault) UpdateContactBook(ctx context.Context, id int64, in ContactBookInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		title, detail := s.seal(in.Title), s.seal(in.Detail)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE contact_book SET title = ?, detail = ? WHERE id_book = ? AND id_user = ?",
			title, detail, id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to update contact book: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactBookUpdate, id))
	})
}

// DeleteContactBook removes a contact book and every contact in it.
func (v *Vault) DeleteContactBook(ctx context.Context, id int64) error {
	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM contact WHERE id_book IN
			 (SELECT id_book FROM contact_book WHERE id_book = ? AND id_user = ?)`,
			id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete contacts: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"DELETE FROM contact_book WHERE id_book = ? AND id_user = ?", id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete contact book: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactBookDelete, id))
	})
}

// CreateContact adds a contact to one of the session owner's books.
func (v *Vault) CreateContact(ctx context.Context, bookID int64, in ContactInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		if err := requireOwned(ctx, tx, ownedContactBook, bookID, p.IdentityID); err != nil {
			return err
		}

		s := fieldSealer{key: p.Key}
		name, addr, email := s.seal(in.FullName), s.seal(in.Address), s.seal(in.Email)
		phone1, phone2 := s.seal(in.PhonePrimary), s.seal(in.PhoneSecondary)
		web, detail := s.seal(in.Webpage), s.seal(in.Detail)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO contact(id_book, full_name, address, email, phone_one, phone_two, webpage, detail)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			bookID, name, addr, email, phone1, phone2, web, detail)
		if err != nil {
			return fmt.Errorf("vault: failed to insert contact: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactCreate, id))
	})
	return id, err
}

// ListContacts returns the contacts of one book.
func (v *Vault) ListContacts(ctx context.Context, bookID int64) ([]Contact, error) {
	var contacts []Contact
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		if err := requireOwned(ctx, tx, ownedContactBook, bookID, p.IdentityID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id_contact, full_name, address, email, phone_one, phone_two, webpage, detail
			 FROM contact WHERE id_book = ? ORDER BY id_contact`,
			bookID)
		if err != nil {
			return fmt.Errorf("vault: failed to query contacts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var name, addr, email, phone1, phone2, web, detail []byte
			if err := rows.Scan(&id, &name, &addr, &email, &phone1, &phone2, &web, &detail); err != nil {
				return fmt.Errorf("vault: failed to scan contact: %w", err)
			}

			o := fieldOpener{key: p.Key}
			c := Contact{
				ID:             id,
				BookID:         bookID,
				FullName:       o.open(name),
				Address:        o.open(addr),
				Email:          o.open(email),
				PhonePrimary:   o.open(phone1),
				PhoneSecondary: o.open(phone2),
				Webpage:        o.open(web),
				Detail:         o.open(detail),
			}
			if o.err != nil {
				return rowError("contact", id, o.err)
			}
			contacts = append(contacts, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactList, bookID))
	})
	if err != nil {
		return nil, err
	}
	return contacts, nil
}

// UpdateContact overwrites every field of a contact.
func (v *Vault) UpdateContact(ctx context.Context, id int64, in ContactInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		name, addr, email := s.seal(in.FullName), s.seal(in.Address), s.seal(in.Email)
		phone1, phone2 := s.seal(in.PhonePrimary), s.seal(in.PhoneSecondary)
		web, detail := s.seal(in.Webpage), s.seal(in.Detail)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE contact
			 SET full_name = ?, address = ?, email = ?, phone_one = ?, phone_two = ?, webpage = ?, detail = ?
			 WHERE id_contact = ? AND id_book IN (SELECT id_book FROM contact_book WHERE id_user = ?)`,
			name, addr, email, phone1, phone2, web, detail, id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to update contact: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactUpdate, id))
	})
}

// DeleteContact removes a contact.
func (v *Vault) DeleteContact(ctx context.Context, id int64) error {
	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM contact
			 WHERE id_contact = ? AND id_book IN (SELECT id_book FROM contact_book WHERE id_user = ?)`,
			id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete contact: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpContactDelete, id))
	})
}
