package vault

import (
	"context"
	"fmt"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
)

// WebAccount is a website login.
type WebAccount struct {
	ID       int64
	OwnerID  int64
	Website  string
	Username string
	Email    string
	Password string
}

// WebAccountInput holds the editable fields of a WebAccount. All are required.
type WebAccountInput struct {
	Website  string
	Username string
	Email    string
	Password string
}

func (in WebAccountInput) validate() error {
	var c fieldCheck
	c.required("website", in.Website)
	c.required("username", in.Username)
	c.required("email", in.Email)
	c.required("password", in.Password)
	c.line("website", in.Website)
	c.line("username", in.Username)
	c.line("email", in.Email)
	c.line("password", in.Password)
	return c.result()
}

// CreateWebAccount stores a web account for the session owner.
func (v *Vault) CreateWebAccount(ctx context.Context, in WebAccountInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		var err error
		id, err = v.insertWebAccount(ctx, tx, p, in)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (v *Vault) insertWebAccount(ctx context.Context, tx store.DBTX, p session.Principal, in WebAccountInput) (int64, error) {
	s := fieldSealer{key: p.Key}
	website, username := s.seal(in.Website), s.seal(in.Username)
	email, password := s.seal(in.Email), s.seal(in.Password)
	if s.err != nil {
		return 0, s.err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO web_account(id_user, website, username, email, password)
		 VALUES(?, ?, ?, ?, ?)`,
		p.IdentityID, website, username, email, password)
	if err != nil {
		return 0, fmt.Errorf("vault: failed to insert web account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, v.record(ctx, tx, p, audit.Detail(audit.OpWebAccountCreate, id))
}

// ListWebAccounts returns every web account of the session owner.
func (v *Vault) ListWebAccounts(ctx context.Context) ([]WebAccount, error) {
	var accounts []WebAccount
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id_account, website, username, email, password
			 FROM web_account WHERE id_user = ? ORDER BY id_account`,
			p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to query web accounts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var website, username, email, password []byte
			if err := rows.Scan(&id, &website, &username, &email, &password); err != nil {
				return fmt.Errorf("vault: failed to scan web account: %w", err)
			}

			o := fieldOpener{key: p.Key}
			a := WebAccount{
				ID:       id,
				OwnerID:  p.IdentityID,
				Website:  o.open(website),
				Username: o.open(username),
				Email:    o.open(email),
				Password: o.open(password),
			}
			if o.err != nil {
				return rowError("web account", id, o.err)
			}
			accounts = append(accounts, a)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.OpWebAccountList)
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateWebAccount overwrites every field of a web account.
func (v *Vault) UpdateWebAccount(ctx context.Context, id int64, in WebAccountInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		website, username := s.seal(in.Website), s.seal(in.Username)
		email, password := s.seal(in.Email), s.seal(in.Password)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE web_account SET website = ?, username = ?, email = ?, password = ?
			 WHERE id_account = ? AND id_user = ?`,
			website, username, email, password, id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to update web account: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpWebAccountUpdate, id))
	})
}

// DeleteWebAccount removes a web account.
func (v *Vault) DeleteWebAccount(ctx context.Context, id int64) error {
	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM web_account WHERE id_account = ? AND id_user = ?", id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete web account: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpWebAccountDelete, id))
	})
}
