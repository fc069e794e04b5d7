package domain

// Transaction is a single validated financial transaction.
// Instances are built once by the validator and never mutated afterward.
type Transaction struct {
	TransactionID string  `json:"transactionId"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
	Location      string  `json:"location"`

	// Timestamp is opaque caller-supplied text; the engine never parses it.
	Timestamp string `json:"timestamp"`

	CardLast4 string `json:"cardLast4"`
}

// RawRecord is the field mapping ingestion collaborators hand to the
// validator. Keys match the CSV/API field names of the transaction feed.
type RawRecord map[string]string

// RequiredFields lists every field a raw record must carry, in feed order.
var RequiredFields = []string{
	"transaction_id",
	"user_id",
	"amount",
	"merchant",
	"location",
	"timestamp",
	"card_last4",
}
