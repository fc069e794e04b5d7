package scoring

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/fraudlab/harrier/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig(), 8)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func baseTxn() domain.Transaction {
	return domain.Transaction{
		TransactionID: "TX001",
		UserID:        "USER001",
		Amount:        100,
		Merchant:      "Acme",
		Location:      "Boston",
		Timestamp:     "2024-01-01T10:00:00",
		CardLast4:     "1234",
	}
}

func TestScoreCriticalAmount(t *testing.T) {
	engine := newTestEngine(t)

	txn := domain.Transaction{
		TransactionID: "TEST001",
		UserID:        "USER00001",
		Amount:        15000.00,
		Merchant:      "Test Merchant",
		Location:      "New York, NY",
		Timestamp:     "2024-01-01T10:00:00",
		CardLast4:     "1234",
	}

	res := engine.Score(txn)

	if res.RiskLevel != domain.RiskCritical {
		t.Errorf("expected CRITICAL, got %s", res.RiskLevel)
	}
	if res.RiskScore < 100 {
		t.Errorf("expected score >= 100, got %.1f", res.RiskScore)
	}
	if !res.IsFraudulent {
		t.Error("expected is_fraudulent = true")
	}

	found := false
	for _, reason := range res.Reasons {
		if strings.Contains(reason, "$10,000") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a reason citing the $10,000 threshold, got %v", res.Reasons)
	}
}

func TestScoreNormalTransaction(t *testing.T) {
	engine := newTestEngine(t)

	txn := baseTxn()
	txn.Amount = 500

	res := engine.Score(txn)

	if res.RiskScore != 0 {
		t.Errorf("expected score 0, got %.1f", res.RiskScore)
	}
	if res.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", res.RiskLevel)
	}
	if res.IsFraudulent {
		t.Error("expected is_fraudulent = false")
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != NormalReason {
		t.Errorf("expected default reason %q, got %v", NormalReason, res.Reasons)
	}
}

func TestScoreMediumTier(t *testing.T) {
	engine := newTestEngine(t)

	for _, amount := range []float64{1000, 1500, 2500, 4999.99} {
		txn := baseTxn()
		txn.Amount = amount

		res := engine.Score(txn)

		if res.RiskScore != 30 {
			t.Errorf("amount %.2f: expected score 30, got %.1f", amount, res.RiskScore)
		}
		if res.RiskLevel != domain.RiskMedium {
			t.Errorf("amount %.2f: expected MEDIUM, got %s", amount, res.RiskLevel)
		}
		if res.IsFraudulent {
			t.Errorf("amount %.2f: MEDIUM must not be auto-flagged", amount)
		}
	}
}

func TestScoreClassificationBands(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		amount     float64
		merchant   string
		location   string
		score      float64
		level      domain.RiskLevel
		fraudulent bool
	}{
		{500, "Acme", "Boston", 0, domain.RiskLow, false},
		{1000, "Acme", "Boston", 30, domain.RiskMedium, false},
		{5000, "Acme", "Boston", 60, domain.RiskHigh, true},
		{10000, "Acme", "Boston", 100, domain.RiskCritical, true},
		{500, "Casino Royale", "Boston", 25, domain.RiskLow, false},
		{500, "Acme", "Lagos, Nigeria", 15, domain.RiskLow, false},
		{1000, "Crypto Exchange", "Boston", 55, domain.RiskMedium, false},
		{5000, "Casino Royale", "Unknown", 100, domain.RiskCritical, true},
		{1000, "Wire Transfer Co", "Moscow, Russia", 70, domain.RiskHigh, true},
	}

	for _, tt := range tests {
		txn := baseTxn()
		txn.Amount = tt.amount
		txn.Merchant = tt.merchant
		txn.Location = tt.location

		res := engine.Score(txn)

		if res.RiskScore != tt.score {
			t.Errorf("%+v: expected score %.1f, got %.1f", tt, tt.score, res.RiskScore)
		}
		if res.RiskLevel != tt.level {
			t.Errorf("%+v: expected %s, got %s", tt, tt.level, res.RiskLevel)
		}
		if res.IsFraudulent != tt.fraudulent {
			t.Errorf("%+v: expected fraudulent=%v", tt, tt.fraudulent)
		}
	}
}

func TestScoreMonotonicInAmount(t *testing.T) {
	engine := newTestEngine(t)

	amounts := []float64{0, 500, 999.99, 1000, 2500, 4999.99, 5000, 9999.99, 10000, 50000}

	prev := -1.0
	for _, amount := range amounts {
		txn := baseTxn()
		txn.Amount = amount

		res := engine.Score(txn)
		if res.RiskScore < prev {
			t.Errorf("score decreased at amount %.2f: %.1f < %.1f", amount, res.RiskScore, prev)
		}
		prev = res.RiskScore
	}
}

func TestScoreIdempotent(t *testing.T) {
	engine := newTestEngine(t)

	txn := baseTxn()
	txn.Amount = 7500
	txn.Merchant = "Luxury Goods"
	txn.Location = "Unknown"

	first := engine.Score(txn)
	second := engine.Score(txn)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("scoring is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestScoreReasonsNeverEmpty(t *testing.T) {
	engine := newTestEngine(t)

	for _, amount := range []float64{0, 1, 999, 1000, 5000, 10000, 1e6} {
		txn := baseTxn()
		txn.Amount = amount

		res := engine.Score(txn)
		if len(res.Reasons) == 0 {
			t.Errorf("amount %.2f: reasons must never be empty", amount)
		}
	}
}

func TestScoreReasonOrderFollowsRuleOrder(t *testing.T) {
	engine := newTestEngine(t)

	txn := baseTxn()
	txn.Amount = 15000
	txn.Merchant = "Casino Palace"
	txn.Location = "Unknown"

	res := engine.Score(txn)

	if len(res.Reasons) != 3 {
		t.Fatalf("expected 3 reasons, got %v", res.Reasons)
	}
	if !strings.Contains(res.Reasons[0], "$10,000") {
		t.Errorf("reason 0 should be the amount tier, got %q", res.Reasons[0])
	}
	if !strings.Contains(res.Reasons[1], "Casino Palace") {
		t.Errorf("reason 1 should name the merchant, got %q", res.Reasons[1])
	}
	if !strings.Contains(res.Reasons[2], "Unknown") {
		t.Errorf("reason 2 should name the location, got %q", res.Reasons[2])
	}
}

// Keyword matching is deliberately case-sensitive: the lists hold exact
// brand names and place names, and "casino" does not match "Casino".
func TestKeywordMatchIsCaseSensitive(t *testing.T) {
	engine := newTestEngine(t)

	txn := baseTxn()
	txn.Amount = 500
	txn.Merchant = "casino royale"
	txn.Location = "nigeria"

	res := engine.Score(txn)

	if res.RiskScore != 0 {
		t.Errorf("lowercase keywords must not match, got score %.1f", res.RiskScore)
	}
}

func TestScoreMultipleKeywordsSingleHit(t *testing.T) {
	engine := newTestEngine(t)

	txn := baseTxn()
	txn.Amount = 500
	txn.Merchant = "Casino Crypto Luxury Emporium"

	res := engine.Score(txn)

	if res.RiskScore != 25 {
		t.Errorf("merchant rule must fire once regardless of matches, got %.1f", res.RiskScore)
	}
	if len(res.Reasons) != 1 {
		t.Errorf("expected a single merchant reason, got %v", res.Reasons)
	}
}

func TestScoreBatchPreservesIdentity(t *testing.T) {
	engine := newTestEngine(t)

	const n = 200
	txns := make([]domain.Transaction, n)
	for i := range txns {
		txns[i] = baseTxn()
		txns[i].TransactionID = fmt.Sprintf("TX%04d", i)
		txns[i].Amount = float64(i * 100)
	}

	results := engine.ScoreBatch(context.Background(), txns)

	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}

	for i, res := range results {
		if res.Transaction.TransactionID != txns[i].TransactionID {
			t.Fatalf("result %d maps to transaction %s, want %s",
				i, res.Transaction.TransactionID, txns[i].TransactionID)
		}
	}
}

func TestScoreBatchMatchesSequentialScoring(t *testing.T) {
	engine := newTestEngine(t)

	txns := []domain.Transaction{}
	for i := 0; i < 50; i++ {
		txn := baseTxn()
		txn.TransactionID = fmt.Sprintf("TX%03d", i)
		txn.Amount = float64(i) * 777
		if i%3 == 0 {
			txn.Merchant = "Crypto Exchange"
		}
		if i%5 == 0 {
			txn.Location = "Unknown"
		}
		txns = append(txns, txn)
	}

	batch := engine.ScoreBatch(context.Background(), txns)

	for i, txn := range txns {
		single := engine.Score(txn)
		if !reflect.DeepEqual(batch[i], single) {
			t.Errorf("txn %d: batch result differs from sequential result", i)
		}
	}
}

func TestScoreBatchEmpty(t *testing.T) {
	engine := newTestEngine(t)

	results := engine.ScoreBatch(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestSummarize(t *testing.T) {
	engine := newTestEngine(t)

	txns := []domain.Transaction{}
	for _, amount := range []float64{500, 1500, 5500, 15000} {
		txn := baseTxn()
		txn.Amount = amount
		txns = append(txns, txn)
	}

	s := Summarize(engine.ScoreBatch(context.Background(), txns))

	if s.Total != 4 {
		t.Errorf("expected total 4, got %d", s.Total)
	}
	if s.Fraudulent != 2 {
		t.Errorf("expected 2 fraudulent, got %d", s.Fraudulent)
	}
	if s.Low != 1 || s.Medium != 1 || s.High != 1 || s.Critical != 1 {
		t.Errorf("unexpected breakdown: %+v", s)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{999, "999.00"},
		{1000, "1,000.00"},
		{15000, "15,000.00"},
		{1234567.89, "1,234,567.89"},
	}

	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
