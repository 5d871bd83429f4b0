package dispatch

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var phoneRe = regexp.MustCompile(`^\d{10,15}$`)

// NormalizePhone canonicalizes a raw phone cell into a digit string.
//
// Spreadsheet numeric cells surface as decimal or exponential notation
// ("5.491122334455e+12", "5491122334455.0"); those are parsed back to a
// number and re-rendered without exponent or fraction. Everything else has
// every non-digit character stripped, preserving digit order.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "eE.") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether a canonical phone is dispatchable:
// 10 to 15 digits, nothing else.
func ValidPhone(canonical string) bool {
	return phoneRe.MatchString(canonical)
}

// Validate normalizes the recipient's phone in place and checks the record
// is dispatchable. A recipient missing any required field is rejected
// outright, independent of phone validity.
func Validate(r *Recipient) error {
	r.Phone = NormalizePhone(r.Phone)
	switch {
	case strings.TrimSpace(r.Name) == "":
		return errors.New("missing name")
	case r.Phone == "":
		return errors.New("missing phone")
	case strings.TrimSpace(r.Code) == "":
		return errors.New("missing code")
	case strings.TrimSpace(r.Expiry) == "":
		return errors.New("missing expiry")
	case !ValidPhone(r.Phone):
		return errors.New("invalid phone: want 10-15 digits")
	}
	return nil
}
