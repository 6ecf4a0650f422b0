//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Vocilia verification
// service.
//
// These tests drive the COMPLETE weekly cycle over HTTP:
//
//	Open cycle -> databases ready -> download -> submit decisions -> invoice
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The tests expect a running server (community tier, synchronous
// submissions) with scoring providers configured. Static providers work:
//
//	VOCILIA_CONTEXT_PROVIDER_URL=static:0.9 \
//	VOCILIA_BEHAVIORAL_PROVIDER_URL=static:0.9 \
//	go run ./cmd/verify
//
// Point the tests elsewhere with VOCILIA_TEST_URL.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL    string
	BusinessID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("VOCILIA_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		// Unique business per run so reruns never hit the one-cycle-per-week
		// constraint.
		BusinessID: fmt.Sprintf("it-business-%d", time.Now().UnixNano()),
	}
}

// API request/response types, matching the service contract.

type storeBatch struct {
	StoreID      string             `json:"storeId"`
	Transactions []transactionInput `json:"transactions"`
}

type transactionInput struct {
	CustomerID     string    `json:"customerId"`
	CustomerTime   time.Time `json:"customerTime"`
	CustomerAmount float64   `json:"customerAmount"`
	FeedbackText   string    `json:"feedbackText"`
}

type openCycleRequest struct {
	WeekID   string       `json:"weekId"`
	Deadline time.Time    `json:"deadline"`
	Stores   []storeBatch `json:"stores"`
}

type cycleResponse struct {
	ID                   string `json:"id"`
	WeekID               string `json:"weekId"`
	Status               string `json:"status"`
	TotalDatabases       int    `json:"totalDatabases"`
	TotalTransactions    int    `json:"totalTransactions"`
	VerifiedTransactions int    `json:"verifiedTransactions"`
}

type openCycleResponse struct {
	Cycle cycleResponse `json:"cycle"`
}

type databaseResponse struct {
	ID            string `json:"id"`
	StoreID       string `json:"storeId"`
	Status        string `json:"status"`
	VerifiedCount int    `json:"verifiedCount"`
	FakeCount     int    `json:"fakeCount"`
}

type databaseListResponse struct {
	Databases []databaseResponse `json:"databases"`
	Count     int                `json:"count"`
}

type decision struct {
	TransactionID string     `json:"transactionId"`
	IsLegitimate  bool       `json:"isLegitimate"`
	ActualAmount  *float64   `json:"actualAmount,omitempty"`
	ActualTime    *time.Time `json:"actualTime,omitempty"`
}

type submitRequest struct {
	Decisions []decision `json:"decisions"`
}

type transactionResponse struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customerId"`
	CustomerTime   time.Time `json:"customerTime"`
	CustomerAmount float64   `json:"customerAmount"`
	Status         string    `json:"status"`
}

// Decimal amounts arrive as JSON strings ("42.27").
type invoiceResponse struct {
	ID       string `json:"id"`
	Subtotal string `json:"subtotal"`
	AdminFee string `json:"adminFee"`
	Total    string `json:"total"`
	Lines    []struct {
		TransactionID string  `json:"transactionId"`
		RewardPercent float64 `json:"rewardPercent"`
		RewardAmount  string  `json:"rewardAmount"`
	} `json:"lines"`
}

func parseAmount(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Fatalf("Failed to parse amount %q: %v", s, err)
	}
	return v
}

// call performs an authenticated JSON request and decodes the response into
// out when the status matches.
func call(t *testing.T, config TestConfig, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Business-ID", config.BusinessID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d for %s %s, got %d: %s", wantStatus, method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

// TestWeeklyCycle_FullFlow runs one store's week end to end: the business
// downloads its database, verifies every transaction against matching POS
// records, and the cycle completes with a reward invoice plus the 20% admin
// fee.
func TestWeeklyCycle_FullFlow(t *testing.T) {
	config := getTestConfig()
	now := time.Now().UTC()
	year, week := now.ISOWeek()
	weekID := fmt.Sprintf("%04d-W%02d", year, week)

	// 1. Open the cycle with one store and three transactions.
	var opened openCycleResponse
	call(t, config, http.MethodPost, "/v1/cycles", openCycleRequest{
		WeekID:   weekID,
		Deadline: now.Add(5 * 24 * time.Hour),
		Stores: []storeBatch{
			{StoreID: "store-001", Transactions: []transactionInput{
				{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "trevlig personal i kassan"},
				{CustomerID: "cust-2", CustomerTime: now, CustomerAmount: 250, FeedbackText: "bra utbud av glutenfritt"},
				{CustomerID: "cust-3", CustomerTime: now, CustomerAmount: 75.50, FeedbackText: "snabb service"},
			}},
		},
	}, http.StatusCreated, &opened)

	if opened.Cycle.TotalTransactions != 3 {
		t.Fatalf("Expected 3 transactions, got %d", opened.Cycle.TotalTransactions)
	}
	cycleID := opened.Cycle.ID

	// 2. The store's database becomes ready; the cycle follows.
	var dbList databaseListResponse
	call(t, config, http.MethodGet, "/v1/cycles/"+cycleID+"/databases", nil, http.StatusOK, &dbList)
	if dbList.Count != 1 {
		t.Fatalf("Expected 1 database, got %d", dbList.Count)
	}
	dbID := dbList.Databases[0].ID

	call(t, config, http.MethodPost, "/v1/databases/"+dbID+"/ready", map[string]string{
		"csvUrl": "s3://exports/" + weekID + ".csv",
	}, http.StatusOK, nil)

	var cycle cycleResponse
	call(t, config, http.MethodGet, "/v1/cycles/"+cycleID, nil, http.StatusOK, &cycle)
	if cycle.Status != "ready" {
		t.Errorf("Expected cycle ready after database ready, got %s", cycle.Status)
	}

	// 3. Download, then submit decisions with matching POS records.
	call(t, config, http.MethodPost, "/v1/databases/"+dbID+"/download", nil, http.StatusOK, nil)

	// The submission needs transaction IDs; fetch them from the database's
	// transaction listing as the business would from the export.
	decisions := buildMatchingDecisions(t, config, dbID)

	var processed databaseResponse
	call(t, config, http.MethodPost, "/v1/databases/"+dbID+"/submit", submitRequest{
		Decisions: decisions,
	}, http.StatusOK, &processed)

	if processed.Status != "processed" {
		t.Errorf("Expected database processed, got %s", processed.Status)
	}
	if processed.VerifiedCount != 3 {
		t.Errorf("Expected 3 verified, got %d", processed.VerifiedCount)
	}

	// 4. The cycle completes and carries an invoice.
	call(t, config, http.MethodGet, "/v1/cycles/"+cycleID, nil, http.StatusOK, &cycle)
	if cycle.Status != "completed" {
		t.Fatalf("Expected completed cycle, got %s", cycle.Status)
	}
	if cycle.VerifiedTransactions != 3 {
		t.Errorf("Expected 3 verified transactions, got %d", cycle.VerifiedTransactions)
	}

	var inv invoiceResponse
	call(t, config, http.MethodGet, "/v1/cycles/"+cycleID+"/invoice", nil, http.StatusOK, &inv)

	if len(inv.Lines) != 3 {
		t.Fatalf("Expected 3 invoice lines, got %d", len(inv.Lines))
	}
	for _, line := range inv.Lines {
		// Reward band is 2-15% of purchase amount.
		if line.RewardPercent < 2.0 || line.RewardPercent > 15.0 {
			t.Errorf("Reward percent %.2f outside 2-15 band", line.RewardPercent)
		}
	}

	subtotal := parseAmount(t, inv.Subtotal)
	total := parseAmount(t, inv.Total)
	wantTotal := subtotal * 1.20
	if diff := total - wantTotal; diff < -0.02 || diff > 0.02 {
		t.Errorf("Expected total = subtotal + 20%% fee, got subtotal %.2f total %.2f", subtotal, total)
	}

	t.Logf("cycle completed: %d verified, invoice %.2f SEK", cycle.VerifiedTransactions, total)
}

// TestWeeklyCycle_FakeDecisionEarnsNothing verifies that transactions the
// business marks fake are excluded from the invoice.
func TestWeeklyCycle_FakeDecisionEarnsNothing(t *testing.T) {
	config := getTestConfig()
	now := time.Now().UTC()
	year, week := now.ISOWeek()
	weekID := fmt.Sprintf("%04d-W%02d", year, week)

	var opened openCycleResponse
	call(t, config, http.MethodPost, "/v1/cycles", openCycleRequest{
		WeekID:   weekID,
		Deadline: now.Add(24 * time.Hour),
		Stores: []storeBatch{
			{StoreID: "store-001", Transactions: []transactionInput{
				{CustomerID: "cust-real", CustomerTime: now, CustomerAmount: 100, FeedbackText: "bra service"},
				{CustomerID: "cust-fake", CustomerTime: now, CustomerAmount: 9999, FeedbackText: "var aldrig dar"},
			}},
		},
	}, http.StatusCreated, &opened)
	cycleID := opened.Cycle.ID

	var dbList databaseListResponse
	call(t, config, http.MethodGet, "/v1/cycles/"+cycleID+"/databases", nil, http.StatusOK, &dbList)
	dbID := dbList.Databases[0].ID

	call(t, config, http.MethodPost, "/v1/databases/"+dbID+"/ready", map[string]string{}, http.StatusOK, nil)
	call(t, config, http.MethodPost, "/v1/databases/"+dbID+"/download", nil, http.StatusOK, nil)

	txs := listDatabaseTransactions(t, config, dbID)
	decisions := make([]decision, 0, len(txs))
	for _, tx := range txs {
		if tx.CustomerID == "cust-fake" {
			decisions = append(decisions, decision{TransactionID: tx.ID, IsLegitimate: false})
			continue
		}
		amount := tx.CustomerAmount
		at := tx.CustomerTime
		decisions = append(decisions, decision{TransactionID: tx.ID, IsLegitimate: true, ActualAmount: &amount, ActualTime: &at})
	}

	var processed databaseResponse
	call(t, config, http.MethodPost, "/v1/databases/"+dbID+"/submit", submitRequest{Decisions: decisions}, http.StatusOK, &processed)

	if processed.VerifiedCount != 1 || processed.FakeCount != 1 {
		t.Errorf("Expected 1 verified / 1 fake, got %d / %d", processed.VerifiedCount, processed.FakeCount)
	}

	var inv invoiceResponse
	call(t, config, http.MethodGet, "/v1/cycles/"+cycleID+"/invoice", nil, http.StatusOK, &inv)
	if len(inv.Lines) != 1 {
		t.Errorf("Expected fake transaction excluded from invoice, got %d lines", len(inv.Lines))
	}
}

// TestWeeklyCycle_DuplicateWeekConflicts verifies the one-cycle-per-week
// constraint over the API.
func TestWeeklyCycle_DuplicateWeekConflicts(t *testing.T) {
	config := getTestConfig()
	now := time.Now().UTC()
	year, week := now.ISOWeek()
	weekID := fmt.Sprintf("%04d-W%02d", year, week)

	req := openCycleRequest{
		WeekID:   weekID,
		Deadline: now.Add(24 * time.Hour),
		Stores: []storeBatch{
			{StoreID: "store-001", Transactions: []transactionInput{
				{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 50, FeedbackText: "helt okej"},
			}},
		},
	}

	call(t, config, http.MethodPost, "/v1/cycles", req, http.StatusCreated, nil)
	call(t, config, http.MethodPost, "/v1/cycles", req, http.StatusConflict, nil)
}

// buildMatchingDecisions fetches the database's transactions and approves
// each one with a POS record exactly matching the customer claim.
func buildMatchingDecisions(t *testing.T, config TestConfig, dbID string) []decision {
	t.Helper()

	txs := listDatabaseTransactions(t, config, dbID)
	if len(txs) == 0 {
		t.Fatal("Expected transactions in database")
	}

	decisions := make([]decision, 0, len(txs))
	for _, tx := range txs {
		amount := tx.CustomerAmount
		at := tx.CustomerTime
		decisions = append(decisions, decision{
			TransactionID: tx.ID,
			IsLegitimate:  true,
			ActualAmount:  &amount,
			ActualTime:    &at,
		})
	}
	return decisions
}

// listDatabaseTransactions pulls every transaction belonging to one database.
func listDatabaseTransactions(t *testing.T, config TestConfig, dbID string) []transactionResponse {
	t.Helper()

	var resp struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	call(t, config, http.MethodGet, "/v1/databases/"+dbID+"/transactions", nil, http.StatusOK, &resp)
	return resp.Transactions
}
