// Offline batch scorer for transaction CSV feeds.
//
// Usage:
//   go run cmd/batch/main.go -csv /path/to/transactions.csv
//
// This tool:
//  1. Reads a transaction CSV (header row with transaction_id, user_id,
//     amount, merchant, location, timestamp, card_last4)
//  2. Validates each row; malformed rows are counted and reported, never fatal
//  3. Scores all valid transactions concurrently
//  4. Prints summary statistics and the flagged transactions
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fraudlab/harrier/internal/domain"
	"github.com/fraudlab/harrier/internal/scoring"
	"github.com/fraudlab/harrier/internal/validate"
)

func main() {
	csvPath := flag.String("csv", "transactions.csv", "path to transaction CSV file")
	workers := flag.Int("workers", 16, "concurrent scoring workers")
	showTop := flag.Int("top", 10, "flagged transactions to print")
	flag.Parse()

	if err := run(*csvPath, *workers, *showTop); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(csvPath string, workers, showTop int) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	txns, skipped, err := loadTransactions(f)
	if err != nil {
		return err
	}

	fmt.Printf("Loaded %d transactions (%d rows skipped as invalid)\n", len(txns), skipped)

	engine, err := scoring.NewEngine(scoring.DefaultConfig(), workers)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	results := engine.ScoreBatch(context.Background(), txns)

	printReport(results, showTop)
	return nil
}

// loadTransactions reads and validates the CSV feed. Invalid rows are
// reported on stderr and skipped; every rejection is independently visible.
func loadTransactions(r io.Reader) ([]domain.Transaction, int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var txns []domain.Transaction
	skipped := 0
	row := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			fmt.Fprintf(os.Stderr, "row %d: %v\n", row, err)
			skipped++
			continue
		}

		raw := make(domain.RawRecord, len(header))
		for i, name := range header {
			if i < len(record) {
				raw[strings.TrimSpace(name)] = record[i]
			}
		}

		txn, err := validate.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "row %d: %v\n", row, err)
			skipped++
			continue
		}

		txns = append(txns, *txn)
	}

	return txns, skipped, nil
}

func printReport(results []domain.DetectionResult, showTop int) {
	line := strings.Repeat("=", 80)

	fmt.Println()
	fmt.Println(line)
	fmt.Printf("%20s%s\n", "", "FRAUD DETECTION RESULTS")
	fmt.Println(line)
	fmt.Println()

	s := scoring.Summarize(results)
	clean := s.Total - s.Fraudulent

	fmt.Println("SUMMARY STATISTICS")
	fmt.Printf("   Total Transactions Processed: %d\n", s.Total)
	fmt.Printf("   Fraudulent Transactions: %d (%s)\n", s.Fraudulent, percent(s.Fraudulent, s.Total))
	fmt.Printf("   Clean Transactions: %d (%s)\n", clean, percent(clean, s.Total))
	fmt.Println()
	fmt.Println("   Risk Level Breakdown:")
	fmt.Printf("   - CRITICAL: %d\n", s.Critical)
	fmt.Printf("   - HIGH:     %d\n", s.High)
	fmt.Printf("   - MEDIUM:   %d\n", s.Medium)
	fmt.Printf("   - LOW:      %d\n", s.Low)
	fmt.Println()
	fmt.Println(strings.Repeat("-", 80))
	fmt.Println()

	var flagged []domain.DetectionResult
	for _, r := range results {
		if r.IsFraudulent {
			flagged = append(flagged, r)
		}
	}

	fmt.Printf("FLAGGED TRANSACTIONS (%d found)\n\n", len(flagged))

	for i, r := range flagged {
		if i >= showTop {
			break
		}
		txn := r.Transaction
		fmt.Printf("   [%d] Transaction: %s\n", i+1, txn.TransactionID)
		fmt.Printf("       Amount: $%.2f\n", txn.Amount)
		fmt.Printf("       Risk Level: %s\n", r.RiskLevel)
		fmt.Printf("       Risk Score: %.1f\n", r.RiskScore)
		fmt.Printf("       Merchant: %s\n", txn.Merchant)
		fmt.Printf("       Location: %s\n", txn.Location)
		fmt.Printf("       User: %s\n", txn.UserID)
		fmt.Printf("       Reasons: %s\n", strings.Join(r.Reasons, ", "))
		fmt.Println()
	}

	if len(flagged) > showTop {
		fmt.Printf("   ... and %d more flagged transactions\n\n", len(flagged)-showTop)
	}

	fmt.Println(line)
	fmt.Println()
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}
