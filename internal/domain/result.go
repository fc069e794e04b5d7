package domain

import "time"

// RiskLevel classifies a transaction's cumulative risk score.
// Levels are totally ordered: LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the audit-log form of the level.
func (l RiskLevel) String() string {
	switch l {
	case RiskCritical:
		return "CRITICAL"
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// AtLeast reports whether l is at or above the given severity.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l >= other
}

// MarshalText encodes the level as its string form for JSON output.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level from its string form.
func (l *RiskLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CRITICAL":
		*l = RiskCritical
	case "HIGH":
		*l = RiskHigh
	case "MEDIUM":
		*l = RiskMedium
	default:
		*l = RiskLow
	}
	return nil
}

// DetectionResult is the terminal artifact of the scoring engine: one
// immutable verdict per transaction, with enough reasons attached that a
// reviewer can recompute the score by hand.
type DetectionResult struct {
	ID           string      `json:"id"`
	Transaction  Transaction `json:"transaction"`
	RiskLevel    RiskLevel   `json:"riskLevel"`
	RiskScore    float64     `json:"riskScore"`
	IsFraudulent bool        `json:"isFraudulent"`

	// Reasons is never empty; when no rule fired it holds the single
	// normal-transaction marker.
	Reasons []string `json:"reasons"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Summary aggregates a batch of detection results for reporting.
type Summary struct {
	Total      int `json:"total"`
	Fraudulent int `json:"fraudulent"`
	Critical   int `json:"critical"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
}
