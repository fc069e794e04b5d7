// Package validate turns raw transaction records into well-formed
// domain.Transaction values, rejecting malformed input per record.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fraudlab/harrier/internal/domain"
)

// ValidationError reports why a raw record could not be parsed.
// It carries the offending field so ingestion collaborators can surface
// per-record failures independently.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction data: field %q: %s", e.Field, e.Reason)
}

// Parse validates a raw record and constructs a Transaction.
// All string fields are trimmed; amount must parse as a non-negative finite
// number. Parse is a pure function of its input and performs no other
// normalization.
func Parse(raw domain.RawRecord) (*domain.Transaction, error) {
	for _, field := range domain.RequiredFields {
		if _, ok := raw[field]; !ok {
			return nil, &ValidationError{Field: field, Reason: "required field is missing"}
		}
	}

	amountText := strings.TrimSpace(raw["amount"])
	amount, err := strconv.ParseFloat(amountText, 64)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Reason: fmt.Sprintf("cannot parse %q as a number", amountText)}
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, &ValidationError{Field: "amount", Reason: "amount must be finite"}
	}
	if amount < 0 {
		return nil, &ValidationError{Field: "amount", Reason: "amount cannot be negative"}
	}

	return &domain.Transaction{
		TransactionID: strings.TrimSpace(raw["transaction_id"]),
		UserID:        strings.TrimSpace(raw["user_id"]),
		Amount:        amount,
		Merchant:      strings.TrimSpace(raw["merchant"]),
		Location:      strings.TrimSpace(raw["location"]),
		Timestamp:     strings.TrimSpace(raw["timestamp"]),
		CardLast4:     strings.TrimSpace(raw["card_last4"]),
	}, nil
}

// Outcome is the per-record result of batch validation. Exactly one of
// Transaction and Err is set.
type Outcome struct {
	Index       int
	Transaction *domain.Transaction
	Err         error
}

// ParseBatch validates N records and returns N independent outcomes in input
// order. One malformed record never affects the others; the caller decides
// whether to skip or abort.
func ParseBatch(raws []domain.RawRecord) []Outcome {
	outcomes := make([]Outcome, len(raws))
	for i, raw := range raws {
		tx, err := Parse(raw)
		outcomes[i] = Outcome{Index: i, Transaction: tx, Err: err}
	}
	return outcomes
}
