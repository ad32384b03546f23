package security

import (
	"context"
	"fmt"

	"github.com/forest6511/facevault/pkg/vault"
)

// Credential is one secret value pulled out of a vault record.
type Credential struct {
	Ref   string // record reference, e.g. "web_account #3"
	Label string // website or bank name
	Kind  string // KindPassword, KindPIN or KindSecurityCode
	Value string
	Owner string // username on the site, if any
}

// Source lists the records a report is computed from. *vault.Vault
// satisfies it while a session is open.
type Source interface {
	ListWebAccounts(ctx context.Context) ([]vault.WebAccount, error)
	ListBankAccounts(ctx context.Context) ([]vault.BankAccount, error)
	ListBankCards(ctx context.Context, accountID int64) ([]vault.BankCard, error)
}

// Collect extracts every non-empty password, PIN and security code.
func Collect(ctx context.Context, src Source) ([]Credential, error) {
	var creds []Credential

	webs, err := src.ListWebAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range webs {
		creds = appendCredential(creds, Credential{
			Ref:   fmt.Sprintf("web_account #%d", w.ID),
			Label: w.Website,
			Kind:  KindPassword,
			Value: w.Password,
			Owner: w.Username,
		})
	}

	banks, err := src.ListBankAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range banks {
		ref := fmt.Sprintf("bank_account #%d", b.ID)
		creds = appendCredential(creds, Credential{Ref: ref, Label: b.BankName, Kind: KindPassword, Value: b.Password, Owner: b.Username})
		creds = appendCredential(creds, Credential{Ref: ref, Label: b.BankName, Kind: KindPIN, Value: b.PIN})

		cards, err := src.ListBankCards(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range cards {
			creds = appendCredential(creds, Credential{
				Ref:   fmt.Sprintf("bank_card #%d", c.ID),
				Label: b.BankName,
				Kind:  KindSecurityCode,
				Value: c.SecurityCode,
			})
		}
	}

	return creds, nil
}

func appendCredential(creds []Credential, c Credential) []Credential {
	if normalizeValue(c.Value) == "" {
		return creds
	}
	return append(creds, c)
}
