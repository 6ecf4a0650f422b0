// Package tolerance reconciles customer-reported transaction values against
// business POS records within fixed tolerance windows.
package tolerance

import (
	"fmt"
	"math"
	"time"

	"github.com/vocilia/verify/internal/domain"
)

// Fixed tolerance windows. A POS record matches when both deltas are within
// tolerance; boundaries are inclusive (a delta of exactly 2 minutes or
// exactly 2.00 SEK still matches).
const (
	TimeTolerance   = 2 * time.Minute
	AmountTolerance = 2.0 // SEK
)

// MatchResult is the outcome of reconciling one customer/POS pair.
type MatchResult struct {
	IsMatch          bool    `json:"isMatch"`
	TimeDeltaMinutes float64 `json:"timeDeltaMinutes"`
	AmountDelta      float64 `json:"amountDelta"` // SEK

	// Confidence decays linearly from 1.0 at zero delta to 0.0 at the
	// tolerance boundary on each axis. The two axis confidences are
	// averaged.
	Confidence float64 `json:"confidence"`
}

// Match compares a customer-reported time/amount pair against a POS record.
// Pure function: no side effects, no retries. Invalid amounts (NaN, Inf,
// negative) are rejected with domain.ErrValidation.
func Match(customerTime time.Time, customerAmount float64, posTime time.Time, posAmount float64) (MatchResult, error) {
	if err := validAmount("customer amount", customerAmount); err != nil {
		return MatchResult{}, err
	}
	if err := validAmount("pos amount", posAmount); err != nil {
		return MatchResult{}, err
	}
	if customerTime.IsZero() || posTime.IsZero() {
		return MatchResult{}, fmt.Errorf("%w: zero timestamp", domain.ErrValidation)
	}

	timeDelta := customerTime.Sub(posTime)
	if timeDelta < 0 {
		timeDelta = -timeDelta
	}
	amountDelta := math.Abs(customerAmount - posAmount)

	res := MatchResult{
		TimeDeltaMinutes: timeDelta.Minutes(),
		AmountDelta:      amountDelta,
	}

	res.IsMatch = timeDelta <= TimeTolerance && amountDelta <= AmountTolerance

	timeConf := axisConfidence(timeDelta.Minutes(), TimeTolerance.Minutes())
	amountConf := axisConfidence(amountDelta, AmountTolerance)
	res.Confidence = (timeConf + amountConf) / 2

	return res, nil
}

// axisConfidence is the linear decay 1.0 at zero delta, 0.0 at (and beyond)
// the tolerance boundary.
func axisConfidence(delta, tolerance float64) float64 {
	if delta >= tolerance {
		return 0.0
	}
	return 1.0 - delta/tolerance
}

func validAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not a number", domain.ErrValidation, field)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s is negative", domain.ErrValidation, field)
	}
	return nil
}
