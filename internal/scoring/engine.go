// Package scoring provides the deterministic risk-scoring engine.
//
// Scoring is a pure function of a single transaction's fields plus the
// static rule tables injected at construction: independent rules contribute
// fixed point values that sum into a risk score, the score maps to a risk
// level through fixed thresholds, and every contribution leaves a
// human-readable reason so a reviewer can recompute the score from the
// reasons alone.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/fraudlab/harrier/internal/domain"
)

// Config holds the static rule tables. It is copied at engine construction
// and never mutated afterward, so it is safe to share across workers.
type Config struct {
	// Amount tiers, evaluated high-to-low; at most one contributes.
	CriticalAmount float64
	HighAmount     float64
	MediumAmount   float64

	CriticalAmountPoints float64
	HighAmountPoints     float64
	MediumAmountPoints   float64

	// Keyword rules: case-sensitive substring containment, one hit each
	// regardless of how many keywords match.
	SuspiciousMerchants []string
	SuspiciousLocations []string
	MerchantPoints      float64
	LocationPoints      float64

	// Classification thresholds, inclusive lower bounds, high-to-low.
	// The fraud cut sits at the HIGH boundary: MEDIUM transactions stay
	// visible for review without being auto-flagged.
	CriticalScore float64
	HighScore     float64
	MediumScore   float64
}

// DefaultConfig returns the reference rule tables.
func DefaultConfig() Config {
	return Config{
		CriticalAmount:       10000,
		HighAmount:           5000,
		MediumAmount:         1000,
		CriticalAmountPoints: 100,
		HighAmountPoints:     60,
		MediumAmountPoints:   30,
		SuspiciousMerchants:  []string{"Casino", "Crypto", "Wire Transfer", "Luxury"},
		SuspiciousLocations:  []string{"Nigeria", "Russia", "Unknown"},
		MerchantPoints:       25,
		LocationPoints:       15,
		CriticalScore:        100,
		HighScore:            60,
		MediumScore:          30,
	}
}

// NormalReason is the default reasons entry when no rule fired.
const NormalReason = "Normal transaction"

// Engine scores transactions against the configured rule tables plus any
// loaded custom rules. Safe for concurrent use.
type Engine struct {
	cfg Config

	mu          sync.RWMutex
	customRules map[string]*CompiledRule
	ruleOrder   []string // sorted IDs, fixed evaluation order

	env        *cel.Env
	maxWorkers int
}

// NewEngine creates a scoring engine with the given rule tables.
func NewEngine(cfg Config, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	// Defensive copies so a caller holding the original slices cannot
	// mutate the rule tables under running workers.
	cfg.SuspiciousMerchants = append([]string(nil), cfg.SuspiciousMerchants...)
	cfg.SuspiciousLocations = append([]string(nil), cfg.SuspiciousLocations...)

	return &Engine{
		cfg:         cfg,
		customRules: make(map[string]*CompiledRule),
		env:         env,
		maxWorkers:  maxWorkers,
	}, nil
}

// Score evaluates a single transaction. It is total: any Transaction the
// validator produces yields a result, never an error. Rule order is fixed
// and reasons are appended in evaluation order.
func (e *Engine) Score(txn domain.Transaction) domain.DetectionResult {
	var score float64
	var reasons []string

	// Amount tier: mutually exclusive, high-to-low.
	switch {
	case txn.Amount >= e.cfg.CriticalAmount:
		score += e.cfg.CriticalAmountPoints
		reasons = append(reasons, fmt.Sprintf("Critical: Transaction amount $%s exceeds $%s threshold",
			formatAmount(txn.Amount), formatAmount(e.cfg.CriticalAmount)))
	case txn.Amount >= e.cfg.HighAmount:
		score += e.cfg.HighAmountPoints
		reasons = append(reasons, fmt.Sprintf("High amount: $%s", formatAmount(txn.Amount)))
	case txn.Amount >= e.cfg.MediumAmount:
		score += e.cfg.MediumAmountPoints
		reasons = append(reasons, fmt.Sprintf("Medium amount: $%s", formatAmount(txn.Amount)))
	}

	// Keyword matching is case-sensitive substring containment, matching
	// the reference feed's exact brand-name lists.
	if containsAny(txn.Merchant, e.cfg.SuspiciousMerchants) {
		score += e.cfg.MerchantPoints
		reasons = append(reasons, fmt.Sprintf("Suspicious merchant: %s", txn.Merchant))
	}
	if containsAny(txn.Location, e.cfg.SuspiciousLocations) {
		score += e.cfg.LocationPoints
		reasons = append(reasons, fmt.Sprintf("Suspicious location: %s", txn.Location))
	}

	// Custom rules fire after the builtins, in sorted-ID order.
	customPoints, customReasons := e.evaluateCustomRules(txn)
	score += customPoints
	reasons = append(reasons, customReasons...)

	level, fraudulent := e.classify(score)

	if len(reasons) == 0 {
		reasons = []string{NormalReason}
	}

	return domain.DetectionResult{
		Transaction:  txn,
		RiskLevel:    level,
		RiskScore:    score,
		IsFraudulent: fraudulent,
		Reasons:      reasons,
	}
}

// classify maps a cumulative score to a risk level and fraud flag.
func (e *Engine) classify(score float64) (domain.RiskLevel, bool) {
	switch {
	case score >= e.cfg.CriticalScore:
		return domain.RiskCritical, true
	case score >= e.cfg.HighScore:
		return domain.RiskHigh, true
	case score >= e.cfg.MediumScore:
		return domain.RiskMedium, false
	default:
		return domain.RiskLow, false
	}
}

// ScoreBatch evaluates transactions concurrently and returns one result per
// input, index-aligned with the input slice. Scoring is CPU-bound and
// lock-free on the hot path, so tasks share nothing but the read-only rule
// tables.
func (e *Engine) ScoreBatch(ctx context.Context, txns []domain.Transaction) []domain.DetectionResult {
	results := make([]domain.DetectionResult, len(txns))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, txn := range txns {
		wg.Add(1)
		go func(idx int, t domain.Transaction) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.Score(t)
		}(i, txn)
	}

	wg.Wait()

	return results
}

// Summarize aggregates results for reporting collaborators.
func Summarize(results []domain.DetectionResult) domain.Summary {
	s := domain.Summary{Total: len(results)}
	for _, r := range results {
		if r.IsFraudulent {
			s.Fraudulent++
		}
		switch r.RiskLevel {
		case domain.RiskCritical:
			s.Critical++
		case domain.RiskHigh:
			s.High++
		case domain.RiskMedium:
			s.Medium++
		default:
			s.Low++
		}
	}
	return s
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// formatAmount renders an amount with thousands separators and two decimals,
// e.g. 15000 -> "15,000.00".
func formatAmount(v float64) string {
	text := fmt.Sprintf("%.2f", v)

	dot := strings.IndexByte(text, '.')
	intPart, fracPart := text[:dot], text[dot:]

	var sb strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(digit)
	}
	sb.WriteString(fracPart)
	return sb.String()
}
