package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/forest6511/facevault/pkg/audit"
	"github.com/forest6511/facevault/pkg/session"
	"github.com/forest6511/facevault/pkg/store"
)

// BankAccount is a bank account with its online-banking credentials.
type BankAccount struct {
	ID            int64
	OwnerID       int64
	BankName      string
	Detail        string
	Username      string
	Password      string
	PIN           string
	AccountNumber string // CBU or IBAN
	Alias         string
}

// BankAccountInput holds the editable fields of a BankAccount.
type BankAccountInput struct {
	BankName      string
	Detail        string
	Username      string
	Password      string
	PIN           string
	AccountNumber string
	Alias         string
}

func (in BankAccountInput) validate() error {
	var c fieldCheck
	c.required("bank_name", in.BankName)
	c.line("bank_name", in.BankName)
	c.text("detail", in.Detail)
	c.line("username", in.Username)
	c.line("password", in.Password)
	c.line("pin", in.PIN)
	c.line("account_number", in.AccountNumber)
	c.line("alias", in.Alias)
	return c.result()
}

// BankCard is a payment card attached to a BankAccount.
type BankCard struct {
	ID           int64
	AccountID    int64
	Issuer       string
	CardType     string
	CardNumber   string
	SecurityCode string
	Detail       string
}

// BankCardInput holds the editable fields of a BankCard.
type BankCardInput struct {
	Issuer       string
	CardType     string
	CardNumber   string
	SecurityCode string
	Detail       string
}

func (in BankCardInput) validate() error {
	var c fieldCheck
	c.required("card_number", in.CardNumber)
	c.minLen("card_number", in.CardNumber, MinCardNumberLen)
	c.required("security_code", in.SecurityCode)
	c.minLen("security_code", in.SecurityCode, MinSecurityCodeLen)
	c.line("issuer", in.Issuer)
	c.line("card_type", in.CardType)
	c.line("card_number", in.CardNumber)
	c.line("security_code", in.SecurityCode)
	c.text("detail", in.Detail)
	return c.result()
}

const ownedBankAccount = "SELECT 1 FROM bank_account WHERE id_account = ? AND id_user = ?"

// requireOwned returns ErrNotFound unless query finds a row for (id, owner).
func requireOwned(ctx context.Context, tx store.DBTX, query string, id, owner int64) error {
	var one int
	err := tx.QueryRowContext(ctx, query, id, owner).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("vault: failed to check owner: %w", err)
	}
	return nil
}

// CreateBankAccount stores a bank account for the session owner.
func (v *Vault) CreateBankAccount(ctx context.Context, in BankAccountInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		bank, detail := s.seal(in.BankName), s.seal(in.Detail)
		user, pass, pin := s.seal(in.Username), s.seal(in.Password), s.seal(in.PIN)
		number, alias := s.seal(in.AccountNumber), s.seal(in.Alias)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO bank_account(id_user, bank_name, detail, username, password, pin, cbu, alias)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			p.IdentityID, bank, detail, user, pass, pin, number, alias)
		if err != nil {
			return fmt.Errorf("vault: failed to insert bank account: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankAccountCreate, id))
	})
	return id, err
}

// ListBankAccounts returns every bank account of the session owner.
func (v *Vault) ListBankAccounts(ctx context.Context) ([]BankAccount, error) {
	var accounts []BankAccount
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id_account, bank_name, detail, username, password, pin, cbu, alias
			 FROM bank_account WHERE id_user = ? ORDER BY id_account`,
			p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to query bank accounts: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var bank, detail, user, pass, pin, number, alias []byte
			if err := rows.Scan(&id, &bank, &detail, &user, &pass, &pin, &number, &alias); err != nil {
				return fmt.Errorf("vault: failed to scan bank account: %w", err)
			}

			o := fieldOpener{key: p.Key}
			a := BankAccount{
				ID:            id,
				OwnerID:       p.IdentityID,
				BankName:      o.open(bank),
				Detail:        o.open(detail),
				Username:      o.open(user),
				Password:      o.open(pass),
				PIN:           o.open(pin),
				AccountNumber: o.open(number),
				Alias:         o.open(alias),
			}
			if o.err != nil {
				return rowError("bank account", id, o.err)
			}
			accounts = append(accounts, a)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.OpBankAccountList)
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateBankAccount overwrites every field of a bank account.
func (v *Vault) UpdateBankAccount(ctx context.Context, id int64, in BankAccountInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		bank, detail := s.seal(in.BankName), s.seal(in.Detail)
		user, pass, pin := s.seal(in.Username), s.seal(in.Password), s.seal(in.PIN)
		number, alias := s.seal(in.AccountNumber), s.seal(in.Alias)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE bank_account
			 SET bank_name = ?, detail = ?, username = ?, password = ?, pin = ?, cbu = ?, alias = ?
			 WHERE id_account = ? AND id_user = ?`,
			bank, detail, user, pass, pin, number, alias, id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to update bank account: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankAccountUpdate, id))
	})
}

// DeleteBankAccount removes a bank account and all of its cards.
func (v *Vault) DeleteBankAccount(ctx context.Context, id int64) error {
	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM bank_card WHERE id_account IN
			 (SELECT id_account FROM bank_account WHERE id_account = ? AND id_user = ?)`,
			id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete bank cards: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"DELETE FROM bank_account WHERE id_account = ? AND id_user = ?", id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete bank account: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankAccountDelete, id))
	})
}

// CreateBankCard adds a card to one of the session owner's bank accounts.
func (v *Vault) CreateBankCard(ctx context.Context, accountID int64, in BankCardInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		if err := requireOwned(ctx, tx, ownedBankAccount, accountID, p.IdentityID); err != nil {
			return err
		}

		s := fieldSealer{key: p.Key}
		issuer, kind := s.seal(in.Issuer), s.seal(in.CardType)
		number, code, detail := s.seal(in.CardNumber), s.seal(in.SecurityCode), s.seal(in.Detail)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO bank_card(id_account, entity, type, card_number, security_code, detail)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			accountID, issuer, kind, number, code, detail)
		if err != nil {
			return fmt.Errorf("vault: failed to insert bank card: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankCardCreate, id))
	})
	return id, err
}

// ListBankCards returns the cards of one bank account.
func (v *Vault) ListBankCards(ctx context.Context, accountID int64) ([]BankCard, error) {
	var cards []BankCard
	err := v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		if err := requireOwned(ctx, tx, ownedBankAccount, accountID, p.IdentityID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id_card, entity, type, card_number, security_code, detail
			 FROM bank_card WHERE id_account = ? ORDER BY id_card`,
			accountID)
		if err != nil {
			return fmt.Errorf("vault: failed to query bank cards: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var issuer, kind, number, code, detail []byte
			if err := rows.Scan(&id, &issuer, &kind, &number, &code, &detail); err != nil {
				return fmt.Errorf("vault: failed to scan bank card: %w", err)
			}

			o := fieldOpener{key: p.Key}
			c := BankCard{
				ID:           id,
				AccountID:    accountID,
				Issuer:       o.open(issuer),
				CardType:     o.open(kind),
				CardNumber:   o.open(number),
				SecurityCode: o.open(code),
				Detail:       o.open(detail),
			}
			if o.err != nil {
				return rowError("bank card", id, o.err)
			}
			cards = append(cards, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankCardList, accountID))
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// UpdateBankCard overwrites every field of a card.
func (v *Vault) UpdateBankCard(ctx context.Context, id int64, in BankCardInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		s := fieldSealer{key: p.Key}
		issuer, kind := s.seal(in.Issuer), s.seal(in.CardType)
		number, code, detail := s.seal(in.CardNumber), s.seal(in.SecurityCode), s.seal(in.Detail)
		if s.err != nil {
			return s.err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE bank_card
			 SET entity = ?, type = ?, card_number = ?, security_code = ?, detail = ?
			 WHERE id_card = ? AND id_account IN (SELECT id_account FROM bank_account WHERE id_user = ?)`,
			issuer, kind, number, code, detail, id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to update bank card: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankCardUpdate, id))
	})
}

// DeleteBankCard removes a card.
func (v *Vault) DeleteBankCard(ctx context.Context, id int64) error {
	return v.authorized(ctx, func(ctx context.Context, tx store.DBTX, p session.Principal) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM bank_card
			 WHERE id_card = ? AND id_account IN (SELECT id_account FROM bank_account WHERE id_user = ?)`,
			id, p.IdentityID)
		if err != nil {
			return fmt.Errorf("vault: failed to delete bank card: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		return v.record(ctx, tx, p, audit.Detail(audit.OpBankCardDelete, id))
	})
}
