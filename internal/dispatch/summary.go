package dispatch

import "math"

// Summarize reduces a roster to counters. Pure and idempotent; callable
// mid-pass for a partial summary.
func Summarize(recipients []Recipient) Summary {
	s := Summary{Total: len(recipients)}
	for _, r := range recipients {
		switch r.Status {
		case StatusSent:
			s.Sent++
		case StatusError:
			s.Errors++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = int(math.Round(float64(s.Sent) / float64(s.Total) * 100))
	}
	return s
}
