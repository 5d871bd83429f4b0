package dispatch

// Status is a recipient's delivery outcome for the current roster. It is
// mutated exactly once per dispatch pass.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Recipient is one row of the loaded roster. Phone is kept raw as ingested;
// normalization happens during the pass.
type Recipient struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Code   string `json:"code"`
	Expiry string `json:"expiry"`

	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Summary aggregates one pass. SuccessRate is a rounded percentage.
type Summary struct {
	Sent        int `json:"sent"`
	Errors      int `json:"errors"`
	Total       int `json:"total"`
	SuccessRate int `json:"success_rate"`
}

// Progress is a point-in-time view of a running (or finished) pass.
// External observers poll it; reading never affects the pass.
type Progress struct {
	Running bool   `json:"running"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Sent    int    `json:"sent"`
	Errors  int    `json:"errors"`
	Current string `json:"current,omitempty"`
}
