// Package fraud combines the four legitimacy sub-scores into a weighted
// composite and a pass/fail decision.
package fraud

import (
	"fmt"
	"math"

	"github.com/vocilia/verify/internal/domain"
)

// Factor identifies one sub-score of the composite.
type Factor string

const (
	FactorContext     Factor = "context"
	FactorKeyword     Factor = "keyword"
	FactorBehavioral  Factor = "behavioral"
	FactorTransaction Factor = "transaction"
)

// Weights holds the composite weights. They must sum to exactly 1.0;
// NewScorer rejects any other configuration at construction time.
type Weights struct {
	Context     float64 `json:"context"`
	Keyword     float64 `json:"keyword"`
	Behavioral  float64 `json:"behavioral"`
	Transaction float64 `json:"transaction"`
}

// DefaultWeights returns the fixed production weighting: AI context 40%,
// keyword 20%, behavioral 30%, transaction verification 10%.
func DefaultWeights() Weights {
	return Weights{
		Context:     0.40,
		Keyword:     0.20,
		Behavioral:  0.30,
		Transaction: 0.10,
	}
}

// Validate checks the sum-to-one invariant.
func (w Weights) Validate() error {
	sum := w.Context + w.Keyword + w.Behavioral + w.Transaction
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("%w: weights sum to %.4f, want 1.0", domain.ErrValidation, sum)
	}
	for _, v := range []float64{w.Context, w.Keyword, w.Behavioral, w.Transaction} {
		if v < 0 {
			return fmt.Errorf("%w: negative weight %.4f", domain.ErrValidation, v)
		}
	}
	return nil
}

func (w Weights) of(f Factor) float64 {
	switch f {
	case FactorContext:
		return w.Context
	case FactorKeyword:
		return w.Keyword
	case FactorBehavioral:
		return w.Behavioral
	case FactorTransaction:
		return w.Transaction
	}
	return 0
}

// Result is the scoring outcome for one transaction.
type Result struct {
	Composite float64 `json:"composite"`
	Passed    bool    `json:"passed"`

	// Degraded is set when the composite was computed over a subset of
	// factors with re-normalized weights.
	Degraded bool `json:"degraded"`

	// Missing lists the factors that were unavailable in a degraded score.
	Missing []Factor `json:"missing,omitempty"`
}

// Scorer computes weighted composite legitimacy scores.
//
// Precondition: every input is in [0,1] with 1.0 = most legitimate. Red-flag
// style inputs (keyword severity, behavioral suspicion) must be inverted to
// "cleanliness" before calling; the scorer does not invert them.
type Scorer struct {
	weights   Weights
	threshold float64
}

// NewScorer creates a scorer, failing fast on an inconsistent weight set or
// a threshold outside [0,1].
func NewScorer(weights Weights, threshold float64) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %.4f outside [0,1]", domain.ErrValidation, threshold)
	}
	return &Scorer{weights: weights, threshold: threshold}, nil
}

// Threshold returns the configured pass threshold.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score computes the full four-factor composite. Inputs outside [0,1] are a
// caller error, reported as ErrInvalidScoreRange, never clamped.
func (s *Scorer) Score(contextScore, keywordScore, behavioralScore, transactionScore float64) (Result, error) {
	return s.ScorePartial(map[Factor]float64{
		FactorContext:     contextScore,
		FactorKeyword:     keywordScore,
		FactorBehavioral:  behavioralScore,
		FactorTransaction: transactionScore,
	})
}

// ScorePartial computes a composite over the available factors only, with
// the remaining weight mass re-normalized across them. Used when an external
// provider is down; the result is marked Degraded and the caller routes the
// transaction to manual review. At least two factors are required.
func (s *Scorer) ScorePartial(available map[Factor]float64) (Result, error) {
	if len(available) < 2 {
		return Result{}, fmt.Errorf("%w: need at least 2 factors, have %d", domain.ErrValidation, len(available))
	}

	var weighted, totalWeight float64
	for f, v := range available {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return Result{}, fmt.Errorf("%w: %s score %.4f", domain.ErrInvalidScoreRange, f, v)
		}
		w := s.weights.of(f)
		weighted += v * w
		totalWeight += w
	}
	if totalWeight <= 0 {
		return Result{}, fmt.Errorf("%w: available factors carry no weight", domain.ErrValidation)
	}

	res := Result{
		Composite: weighted / totalWeight,
	}
	res.Passed = res.Composite >= s.threshold

	if len(available) < 4 {
		res.Degraded = true
		for _, f := range []Factor{FactorContext, FactorKeyword, FactorBehavioral, FactorTransaction} {
			if _, ok := available[f]; !ok {
				res.Missing = append(res.Missing, f)
			}
		}
	}

	return res, nil
}
