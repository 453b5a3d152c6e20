// Benchmark tool for testing Kestrel against labeled expense report data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/expenses.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled expense rows (with their bank postings, when one exists)
//   2. Seeds the bank postings, then sends each expense for reconciliation
//   3. Compares Kestrel's verdict (auto_approve/flag_for_review) with the labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// The server must run in sync mode (KESTREL_SYNC=true) so POST /expenses
// returns the decision inline.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledExpense represents a row from the benchmark dataset. Flagged is
// the ground-truth label: true when a human would route this expense to
// review.
type LabeledExpense struct {
	Amount           string
	Date             string
	Merchant         string
	Category         string
	JurisdictionTag  string
	PaymentSource    string
	HasReceipt       bool
	ReceiptAmount    string
	BankAmount       string
	BankDate         string
	BankDescription  string
	Flagged          bool
}

// ExpenseRequest is the Kestrel API request format.
type ExpenseRequest struct {
	Amount           json.Number `json:"amount"`
	Date             string      `json:"date"`
	MerchantName     string      `json:"merchantName"`
	CategoryName     string      `json:"categoryName,omitempty"`
	JurisdictionTag  string      `json:"jurisdictionTag,omitempty"`
	PaymentSourceKey string      `json:"paymentSourceKey"`
	HasReceipt       bool        `json:"hasReceipt"`
	ReceiptAmount    json.Number `json:"receiptAmount,omitempty"`
}

// BankTransactionRequest is the bank feed request format.
type BankTransactionRequest struct {
	Amount           json.Number `json:"amount"`
	Date             string      `json:"date"`
	Description      string      `json:"description"`
	PaymentSourceKey string      `json:"paymentSourceKey"`
}

// DecisionResponse is the Kestrel API response format.
type DecisionResponse struct {
	ExpenseID  string `json:"expenseId"`
	Outcome    string `json:"outcome"`
	ReasonCode string `json:"reasonCode"`
	Confidence int    `json:"confidence"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // should-flag decided flag_for_review
	FalsePositives int64 // clean decided flag_for_review
	TrueNegatives  int64 // clean decided auto_approve
	FalseNegatives int64 // should-flag decided auto_approve (missed!)

	TotalProcessed int64
	TotalFlaggable int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled expense CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum expenses to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each expense result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/expenses.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Expense Reconciliation            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running in sync mode:")
		fmt.Println("  KESTREL_SYNC=true ./kestrel")
		os.Exit(1)
	}

	expenses, err := readExpenseCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d labeled expenses\n", len(expenses))

	// Seed bank postings first so candidates exist before reconciliation.
	seeded, err := seedBankPostings(expenses, *baseURL, *tenantID)
	if err != nil {
		fmt.Printf("ERROR: failed to seed bank postings: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d bank postings\n\n", seeded)

	start := time.Now()
	metrics := runBenchmark(expenses, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(start)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readExpenseCSV reads labeled expense rows. Expected columns:
// amount, date, merchant, category, jurisdiction_tag, payment_source,
// has_receipt, receipt_amount, bank_amount, bank_date, bank_description,
// flagged. Bank columns may be empty when no posting exists.
func readExpenseCSV(path string, limit int) ([]LabeledExpense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"amount", "date", "merchant", "payment_source", "flagged"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	get := func(record []string, col string) string {
		idx, ok := colIndex[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var expenses []LabeledExpense
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		exp := LabeledExpense{
			Amount:          get(record, "amount"),
			Date:            get(record, "date"),
			Merchant:        get(record, "merchant"),
			Category:        get(record, "category"),
			JurisdictionTag: get(record, "jurisdiction_tag"),
			PaymentSource:   get(record, "payment_source"),
			HasReceipt:      get(record, "has_receipt") == "1",
			ReceiptAmount:   get(record, "receipt_amount"),
			BankAmount:      get(record, "bank_amount"),
			BankDate:        get(record, "bank_date"),
			BankDescription: get(record, "bank_description"),
			Flagged:         get(record, "flagged") == "1",
		}
		expenses = append(expenses, exp)

		if limit > 0 && len(expenses) >= limit {
			break
		}
	}

	return expenses, nil
}

// seedBankPostings ingests every row's bank posting before reconciliation
// starts. Rows without bank columns represent missing postings.
func seedBankPostings(expenses []LabeledExpense, baseURL, tenantID string) (int, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	seeded := 0

	for _, exp := range expenses {
		if exp.BankAmount == "" || exp.BankDate == "" {
			continue
		}

		req := BankTransactionRequest{
			Amount:           json.Number(exp.BankAmount),
			Date:             exp.BankDate,
			Description:      exp.BankDescription,
			PaymentSourceKey: exp.PaymentSource,
		}
		body, err := json.Marshal(req)
		if err != nil {
			return seeded, err
		}

		httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/bank-transactions", bytes.NewReader(body))
		if err != nil {
			return seeded, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Tenant-ID", tenantID)

		resp, err := client.Do(httpReq)
		if err != nil {
			return seeded, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return seeded, fmt.Errorf("seeding posting: status %d", resp.StatusCode)
		}
		seeded++
	}

	return seeded, nil
}

func runBenchmark(expenses []LabeledExpense, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledExpense, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for exp := range work {
				start := time.Now()
				result, err := reconcileExpense(client, baseURL, tenantID, exp)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", exp.Merchant, err)
					}
					continue
				}

				// Track actual labels
				if exp.Flagged {
					atomic.AddInt64(&metrics.TotalFlaggable, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				// Calculate confusion matrix
				predicted := result.Outcome == "flag_for_review"
				actual := exp.Flagged

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					merchant := exp.Merchant
					if len(merchant) > 20 {
						merchant = merchant[:20]
					}
					fmt.Printf("%s %-20s | Amount: $%-10s | Flagged: %-5v | Kestrel: %-15s (%s, conf %d)\n",
						status,
						merchant,
						exp.Amount,
						exp.Flagged,
						result.Outcome,
						result.ReasonCode,
						result.Confidence,
					)
				}
			}
		}()
	}

	// Send work
	for _, exp := range expenses {
		work <- exp
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func reconcileExpense(client *http.Client, baseURL, tenantID string, exp LabeledExpense) (*DecisionResponse, error) {
	req := ExpenseRequest{
		Amount:           json.Number(exp.Amount),
		Date:             exp.Date,
		MerchantName:     exp.Merchant,
		CategoryName:     exp.Category,
		JurisdictionTag:  exp.JurisdictionTag,
		PaymentSourceKey: exp.PaymentSource,
		HasReceipt:       exp.HasReceipt,
	}
	if exp.ReceiptAmount != "" {
		req.ReceiptAmount = json.Number(exp.ReceiptAmount)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/expenses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DecisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Flaggable:  %d\n", m.TotalFlaggable)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FLAG        APPROVE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 ROUTING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many needed review)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of review-worthy, how many we flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct routing)\n", accuracy)

	// Routing analysis
	fmt.Printf("\n🔍 ROUTING ANALYSIS\n")
	if m.TotalFlaggable > 0 {
		catchRate := float64(m.TruePositives) / float64(m.TotalFlaggable) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFlaggable) * 100
		fmt.Printf("   Caught:            %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFlaggable, catchRate)
		fmt.Printf("   Auto-approved:     %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFlaggable, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   Needless Reviews:  %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f expenses/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching nearly everything review-worthy")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some review-worthy expenses auto-approve")
	} else {
		fmt.Println("   ❌ Poor recall - review-worthy expenses are being auto-approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - reviewers see many clean expenses")
	} else {
		fmt.Println("   ❌ Very low precision - the review queue is mostly noise")
	}

	fmt.Println()
}
