package domain

import "time"

// CustomRule is an operator-authored scoring rule evaluated after the
// builtin amount/merchant/location rules. The expression is a CEL program
// over transaction fields that must return bool; when it evaluates true the
// rule contributes Points to the risk score and appends Reason.
type CustomRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// Expression is a CEL program over: amount, merchant, location,
	// user_id, card_last4, timestamp.
	Expression string `json:"expression"`

	Points float64 `json:"points"`
	Reason string  `json:"reason"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
