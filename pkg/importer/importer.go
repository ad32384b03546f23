// Package importer reads exports of other password managers and maps
// them to vault records. Supports 1Password CSV, Bitwarden JSON, and
// LastPass CSV formats.
//
// Complete logins become web accounts. Secure notes, and logins that lack
// a field a web account requires, become notes so nothing readable is
// lost. Other item types are skipped with a reason.
package importer

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/facevault/pkg/vault"
)

// Source represents the source password manager format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// Item is one entry read from an export, before it is mapped to a record.
type Item struct {
	Name     string
	URL      string
	Username string
	Email    string
	Password string
	TOTP     string
	Notes    string
	Extra    []string // additional "label: value" lines
	Note     bool     // secure note rather than a login
}

// ImportResult contains the results of a parse.
type ImportResult struct {
	WebAccounts []vault.WebAccountInput
	Notes       []vault.NoteInput

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []SkippedItem
}

// Batch returns the records to hand to vault.Import.
func (r *ImportResult) Batch() vault.ImportBatch {
	return vault.ImportBatch{WebAccounts: r.WebAccounts, Notes: r.Notes}
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser is the interface for export format parsers.
type Parser interface {
	// Parse parses the input data and maps every item.
	Parse(data []byte) (*ImportResult, error)

	// Source returns the source type for this parser.
	Source() Source
}

func newResult() *ImportResult {
	return &ImportResult{
		WebAccounts: make([]vault.WebAccountInput, 0),
		Notes:       make([]vault.NoteInput, 0),
		Warnings:    make([]string, 0),
		Skipped:     make([]SkippedItem, 0),
	}
}

// collector maps items into a result and numbers untitled ones.
type collector struct {
	result  *ImportResult
	counter int
}

func newCollector() *collector {
	return &collector{result: newResult(), counter: 1}
}

// add maps one item. where locates the item in the export for warnings.
func (c *collector) add(item Item, where string) {
	item = cleanItem(item)

	if item.Note {
		if item.Notes == "" && len(item.Extra) == 0 {
			c.skip(item.Name, "empty note")
			return
		}
		c.addNote(item, c.title(item), noteBody(item, false))
		return
	}

	if IsEmptyOrWhitespace(item.Username + item.Password + item.TOTP + item.Notes + strings.Join(item.Extra, "")) {
		c.skip(item.Name, "no useful data")
		return
	}

	web := vault.WebAccountInput{
		Website:  item.URL,
		Username: item.Username,
		Email:    item.Email,
		Password: item.Password,
	}
	if web.Website == "" {
		web.Website = item.Name
	}
	if web.Email == "" && LooksLikeEmail(item.Username) {
		web.Email = item.Username
	}

	if problem := loginProblem(web); problem != "" {
		c.warn(where, fmt.Sprintf("%s: %s, stored as note", c.label(item), problem))
		c.addNote(item, c.title(item), noteBody(item, true))
		return
	}

	c.result.WebAccounts = append(c.result.WebAccounts, web)
	if item.TOTP != "" || item.Notes != "" || len(item.Extra) > 0 {
		c.addNote(item, c.title(item)+" (notes)", noteBody(item, false))
	}
}

func (c *collector) addNote(item Item, title, body string) {
	if len(body) > vault.MaxTextLength {
		c.skip(item.Name, fmt.Sprintf("notes exceed %d bytes", vault.MaxTextLength))
		return
	}
	c.result.Notes = append(c.result.Notes, vault.NoteInput{
		Title:   Truncate(title, vault.MaxFieldLength),
		Content: body,
	})
}

func (c *collector) skip(name, reason string) {
	c.result.Skipped = append(c.result.Skipped, SkippedItem{OriginalName: name, Reason: reason})
}

func (c *collector) warn(where, msg string) {
	c.result.Warnings = append(c.result.Warnings, fmt.Sprintf("%s: %s", where, msg))
}

// title returns the item name, or a fallback built from its URL or the
// running counter.
func (c *collector) title(item Item) string {
	if item.Name != "" {
		return item.Name
	}
	t := FallbackTitle(item.URL, c.counter)
	c.counter++
	return t
}

func (c *collector) label(item Item) string {
	if item.Name != "" {
		return fmt.Sprintf("%q", item.Name)
	}
	return "untitled item"
}

// loginProblem describes the first web account field that is empty or too
// long to store, or returns "".
func loginProblem(w vault.WebAccountInput) string {
	fields := []struct{ name, value string }{
		{"website", w.Website},
		{"username", w.Username},
		{"email", w.Email},
		{"password", w.Password},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return "missing " + f.name
		}
		if len(f.value) > vault.MaxFieldLength {
			return f.name + " too long"
		}
	}
	return ""
}

// noteBody renders the item's text. full includes the login fields for
// logins that could not become web accounts.
func noteBody(item Item, full bool) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}

	if full {
		add("Website", item.URL)
		add("Username", item.Username)
		add("Email", item.Email)
		add("Password", item.Password)
	}
	add("TOTP", item.TOTP)
	lines = append(lines, item.Extra...)
	if item.Notes != "" {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, item.Notes)
	}
	return strings.Join(lines, "\n")
}

func cleanItem(item Item) Item {
	for _, f := range []*string{&item.Name, &item.URL, &item.Username, &item.Email, &item.Password, &item.TOTP, &item.Notes} {
		*f = strings.ToValidUTF8(*f, "\uFFFD")
	}
	for i := range item.Extra {
		item.Extra[i] = strings.ToValidUTF8(item.Extra[i], "\uFFFD")
	}
	item.Name = NormalizeValue(item.Name)
	item.URL = NormalizeValue(item.URL)
	item.Username = NormalizeValue(item.Username)
	item.Email = NormalizeValue(item.Email)
	item.TOTP = strings.TrimSpace(item.TOTP)
	item.Notes = strings.TrimSpace(item.Notes)
	return item
}

// FallbackTitle generates a title when the original name is empty:
// the URL hostname when there is one, imported_item_N otherwise.
func FallbackTitle(url string, counter int) string {
	if url != "" {
		if hostname := extractHostname(url); hostname != "" {
			return hostname
		}
	}
	return fmt.Sprintf("imported_item_%d", counter)
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	// Remove protocol
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")

	// Remove path
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}

	// Remove port
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}

	return strings.TrimPrefix(urlStr, "www.")
}

// LooksLikeEmail reports whether s parses as a bare address.
func LooksLikeEmail(s string) bool {
	if !strings.Contains(s, "@") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// DecodeHTMLEntities decodes common HTML entities found in LastPass exports.
func DecodeHTMLEntities(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	return s
}

// NormalizeValue trims whitespace and normalizes Unicode to NFC.
func NormalizeValue(s string) string {
	s = strings.TrimSpace(s)
	s = norm.NFC.String(s)
	return s
}

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}
