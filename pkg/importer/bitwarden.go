package importer

import (
	"encoding/json"
	"fmt"
)

// BitwardenParser parses Bitwarden JSON export files (unencrypted).
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

// Bitwarden custom field types.
const (
	bitwardenFieldText    = 0
	bitwardenFieldHidden  = 1
	bitwardenFieldBoolean = 2
)

// bitwardenExport represents the top-level Bitwarden export structure.
type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

// bitwardenItem represents a Bitwarden vault item.
type bitwardenItem struct {
	Type   int                    `json:"type"`
	Name   string                 `json:"name"`
	Notes  string                 `json:"notes"`
	Login  *bitwardenLogin        `json:"login"`
	Fields []bitwardenCustomField `json:"fields"`
}

// bitwardenLogin represents Bitwarden login data.
type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

// bitwardenURI represents a Bitwarden URI entry.
type bitwardenURI struct {
	URI string `json:"uri"`
}

// bitwardenCustomField represents a Bitwarden custom field.
type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*ImportResult, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("encrypted Bitwarden exports are not supported; export as unencrypted JSON")
	}

	c := newCollector()
	for i := range export.Items {
		item := &export.Items[i]
		where := fmt.Sprintf("item %d", i+1)

		switch item.Type {
		case bitwardenTypeLogin:
			c.add(p.loginItem(item), where)
		case bitwardenTypeSecureNote:
			c.add(Item{Name: item.Name, Notes: item.Notes, Extra: customFields(item), Note: true}, where)
		case bitwardenTypeCard:
			c.skip(item.Name, "card items are not imported")
		case bitwardenTypeIdentity:
			c.skip(item.Name, "identity items are not imported")
		default:
			c.skip(item.Name, fmt.Sprintf("unsupported item type: %d", item.Type))
		}
	}
	return c.result, nil
}

// loginItem maps a Login item. The first URI is the website; the rest are
// kept as extra lines.
func (p *BitwardenParser) loginItem(item *bitwardenItem) Item {
	out := Item{Name: item.Name, Notes: item.Notes}
	if item.Login != nil {
		out.Username = item.Login.Username
		out.Password = item.Login.Password
		out.TOTP = item.Login.TOTP
		for i, u := range item.Login.URIs {
			if u.URI == "" {
				continue
			}
			if out.URL == "" {
				out.URL = u.URI
				continue
			}
			out.Extra = append(out.Extra, fmt.Sprintf("URL %d: %s", i+1, u.URI))
		}
	}
	out.Extra = append(out.Extra, customFields(item)...)
	return out
}

// customFields renders custom fields as "name: value" lines. Hidden and
// text fields are kept; boolean fields only when set.
func customFields(item *bitwardenItem) []string {
	var lines []string
	for _, f := range item.Fields {
		name := f.Name
		if name == "" {
			name = "custom_field"
		}
		switch f.Type {
		case bitwardenFieldBoolean:
			if f.Value != "true" {
				continue
			}
		case bitwardenFieldText, bitwardenFieldHidden:
		default:
			continue
		}
		lines = append(lines, name+": "+f.Value)
	}
	return lines
}
