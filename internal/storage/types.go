package storage

import (
	"errors"
	"time"

	"wablast/internal/dispatch"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the pass-history store.
// An empty Path disables storage entirely.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// PassRecord is one finished dispatch pass as persisted.
type PassRecord struct {
	ID          int64     `json:"id"`
	At          time.Time `json:"at"`
	Sent        int       `json:"sent"`
	Errors      int       `json:"errors"`
	Total       int       `json:"total"`
	SuccessRate int       `json:"successRate"`

	Outcomes []OutcomeRecord `json:"outcomes,omitempty"`
}

// OutcomeRecord is one recipient's final state within a pass.
type OutcomeRecord struct {
	Name   string          `json:"name"`
	Phone  string          `json:"phone"`
	Code   string          `json:"code"`
	Expiry string          `json:"expiry"`
	Status dispatch.Status `json:"status"`
	Reason string          `json:"reason,omitempty"`
}
