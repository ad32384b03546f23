package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Filter keeps entries whose timestamp falls in [since, until]. Zero bounds
// are open. Entries that failed to decrypt have no timestamp and are kept
// only when both bounds are zero.
func Filter(entries []Entry, since, until time.Time) []Entry {
	if since.IsZero() && until.IsZero() {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if e.Err != nil {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && e.Timestamp.After(until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Export formats entries as json or csv.
func Export(entries []Entry, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		if entries == nil {
			entries = []Entry{}
		}
		return json.MarshalIndent(entries, "", "  ")
	case formatCSV:
		return formatCSVEntries(entries), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func formatCSVEntries(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.WriteString("id,seq,timestamp,session_id,detail,error\n")

	for _, e := range entries {
		ts, errText := "", ""
		if e.Err != nil {
			errText = e.Err.Error()
		} else {
			ts = e.Timestamp.Format(timeLayout)
		}
		fmt.Fprintf(&buf, "%d,%d,%s,%s,%s,%s\n",
			e.ID,
			e.Seq,
			csvEscape(ts),
			csvEscape(e.SessionID),
			csvEscape(e.Detail),
			csvEscape(errText),
		)
	}
	return buf.Bytes()
}

// csvEscape quotes a field when it contains separators, and also when it
// starts with a spreadsheet formula character.
func csvEscape(field string) string {
	if field == "" {
		return field
	}

	needsQuoting := false
	switch field[0] {
	case '=', '+', '-', '@':
		needsQuoting = true
	}
	if !needsQuoting {
		for _, c := range field {
			if c == ',' || c == '"' || c == '\n' || c == '\r' {
				needsQuoting = true
				break
			}
		}
	}
	if !needsQuoting {
		return field
	}

	var b bytes.Buffer
	b.WriteByte('"')
	for _, r := range field {
		if r == '"' {
			b.WriteString(`""`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
