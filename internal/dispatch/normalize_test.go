package dispatch

import "testing"

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain digits", "5491122334455", "5491122334455"},
		{"formatted", "+54 9 11 2233-4455", "5491122334455"},
		{"decimal cell", "5491122334455.0", "5491122334455"},
		{"exponential cell", "5.491122334455e+12", "5491122334455"},
		{"uppercase exponent", "5.491122334455E+12", "5491122334455"},
		{"whitespace", "  5491122334455 ", "5491122334455"},
		{"letters stripped", "tel: 5491122334455", "5491122334455"},
		{"empty", "", ""},
		{"only junk", "abc", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizePhone(tc.in); got != tc.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidPhone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{"5491122334455", true},
		{"1122334455", true},      // 10 digits, lower bound
		{"123456789012345", true}, // 15 digits, upper bound
		{"123456789", false},      // 9 digits
		{"1234567890123456", false},
		{"", false},
		{"54911a2233445", false},
	}
	for _, tc := range cases {
		if got := ValidPhone(tc.in); got != tc.want {
			t.Errorf("ValidPhone(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := Recipient{Name: "Ana", Phone: "+54 9 11 2233 4455", Code: "C1", Expiry: "2025-01-01"}

	t.Run("normalizes in place", func(t *testing.T) {
		t.Parallel()
		r := valid
		if err := Validate(&r); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if r.Phone != "5491122334455" {
			t.Fatalf("phone = %q, want normalized", r.Phone)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name string
			mut  func(*Recipient)
		}{
			{"name", func(r *Recipient) { r.Name = " " }},
			{"phone", func(r *Recipient) { r.Phone = "" }},
			{"code", func(r *Recipient) { r.Code = "" }},
			{"expiry", func(r *Recipient) { r.Expiry = "" }},
		}
		for _, tc := range cases {
			r := valid
			tc.mut(&r)
			if err := Validate(&r); err == nil {
				t.Errorf("missing %s: expected error", tc.name)
			}
		}
	})

	t.Run("short phone rejected", func(t *testing.T) {
		t.Parallel()
		r := valid
		r.Phone = "123456"
		if err := Validate(&r); err == nil {
			t.Fatal("expected invalid phone error")
		}
	})
}
