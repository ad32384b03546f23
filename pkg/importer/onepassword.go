package importer

import "strings"

// OnePasswordParser parses 1Password CSV export files:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
//
// Some exports add an Email column, which is used when present.
type OnePasswordParser struct{}

// 1Password CSV column names, matched case-insensitively.
const (
	op1ColTitle    = "title"
	op1ColWebsite  = "website"
	op1ColUsername = "username"
	op1ColEmail    = "email"
	op1ColPassword = "password"
	op1ColOTPAuth  = "otpauth"
	op1ColArchived = "archived"
	op1ColNotes    = "notes"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte) (*ImportResult, error) {
	rows, err := readCSV(data, strings.ToLower, op1ColTitle)
	if err != nil {
		return nil, err
	}

	c := newCollector()
	for _, r := range rows {
		if r.err != "" {
			c.warn(r.where, r.err)
			continue
		}

		item := Item{
			Name:     r.get(op1ColTitle),
			URL:      r.get(op1ColWebsite),
			Username: r.get(op1ColUsername),
			Email:    r.get(op1ColEmail),
			Password: r.get(op1ColPassword),
			TOTP:     r.get(op1ColOTPAuth),
			Notes:    r.get(op1ColNotes),
		}
		if strings.EqualFold(r.get(op1ColArchived), "true") {
			c.warn(r.where, "archived item imported")
		}
		// 1Password writes secure notes as rows with only a title and notes.
		item.Note = item.URL == "" && item.Username == "" && item.Password == "" && item.TOTP == ""
		c.add(item, r.where)
	}
	return c.result, nil
}
