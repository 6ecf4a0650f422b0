package domain

// ScreeningRule is a per-business post-scoring rule configuration. The CEL
// expression is evaluated over the scored transaction; the resulting value is
// mapped through bands to an outcome.
type ScreeningRule struct {
	ID          string `json:"id"`
	BusinessID  string `json:"businessId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Outcome bands for value-to-outcome mapping
	Bands []RuleBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // ".approve", ".review", ".reject"
	Reason     string   `json:"reason"`
}

// ScreeningResult is the output of evaluating one screening rule.
type ScreeningResult struct {
	RuleID     string  `json:"ruleId"`
	BusinessID string  `json:"businessId"`
	TxID       string  `json:"txId"`
	Outcome    string  `json:"outcome"`
	Value      float64 `json:"value"` // the computed expression value
	Reason     string  `json:"reason"`
}

// Predefined screening outcomes, ordered by precedence: reject wins over
// review, review wins over approve.
const (
	OutcomeApprove = ".approve"
	OutcomeReview  = ".review"
	OutcomeReject  = ".reject"
	OutcomeError   = ".err"
)
