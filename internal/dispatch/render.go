package dispatch

import "strings"

// Template placeholders. The campaign template is operator-supplied and
// kept compatible with the historical spreadsheet workflow, hence the
// Spanish tokens.
const (
	PlaceholderName   = "{nombre}"
	PlaceholderCode   = "{codigo}"
	PlaceholderExpiry = "{vencimiento}"
)

// Render substitutes the first occurrence of each placeholder with the
// recipient's fields. No escaping, no validation of field content;
// deterministic and safe for concurrent use. Re-rendering text with no
// placeholders left returns it unchanged.
func Render(template string, r Recipient) string {
	out := strings.Replace(template, PlaceholderName, r.Name, 1)
	out = strings.Replace(out, PlaceholderCode, r.Code, 1)
	out = strings.Replace(out, PlaceholderExpiry, r.Expiry, 1)
	return out
}
