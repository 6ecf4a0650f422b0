// Package invoice computes per-cycle customer rewards and the business
// invoice. Money is decimal SEK throughout; floats never touch amounts.
package invoice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vocilia/verify/internal/domain"
)

// Calculator turns verified transactions into reward lines and totals.
type Calculator struct {
	minPercent float64
	maxPercent float64
	adminFee   decimal.Decimal // fraction, e.g. 0.20
}

// NewCalculator builds a calculator from pipeline configuration. The reward
// band must be a non-empty range and the admin fee non-negative.
func NewCalculator(cfg domain.VerificationConfig) (*Calculator, error) {
	if cfg.RewardMinPercent < 0 || cfg.RewardMaxPercent <= cfg.RewardMinPercent {
		return nil, fmt.Errorf("%w: reward band [%f, %f]", domain.ErrValidation, cfg.RewardMinPercent, cfg.RewardMaxPercent)
	}
	if cfg.AdminFeePercent < 0 {
		return nil, fmt.Errorf("%w: negative admin fee", domain.ErrValidation)
	}

	return &Calculator{
		minPercent: cfg.RewardMinPercent,
		maxPercent: cfg.RewardMaxPercent,
		adminFee:   decimal.NewFromFloat(cfg.AdminFeePercent).Div(decimal.NewFromInt(100)),
	}, nil
}

// RewardPercent maps a composite legitimacy score in [0,1] onto the reward
// band. The mapping is linear: 0.0 earns the band minimum, 1.0 the maximum.
func (c *Calculator) RewardPercent(composite float64) (float64, error) {
	if composite < 0 || composite > 1 {
		return 0, fmt.Errorf("%w: composite %f", domain.ErrInvalidScoreRange, composite)
	}
	return c.minPercent + composite*(c.maxPercent-c.minPercent), nil
}

// Line computes the reward line for one verified transaction. The reward is
// a percentage of the reconciled POS amount when available, otherwise of the
// customer-reported amount. Rounded to whole öre.
func (c *Calculator) Line(tx *domain.Transaction, composite float64) (domain.InvoiceLine, error) {
	pct, err := c.RewardPercent(composite)
	if err != nil {
		return domain.InvoiceLine{}, err
	}

	amount := tx.CustomerAmount
	if tx.ActualAmount != nil {
		amount = *tx.ActualAmount
	}

	base := decimal.NewFromFloat(amount)
	reward := base.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100)).Round(2)

	return domain.InvoiceLine{
		TransactionID: tx.ID,
		StoreID:       tx.StoreID,
		Amount:        base,
		RewardPercent: pct,
		RewardAmount:  reward,
	}, nil
}

// Build assembles the cycle invoice from verified transactions and their
// composite scores. Rejected and unverified transactions earn nothing and
// must not be passed in. An empty cycle yields a zero invoice, not an error.
func (c *Calculator) Build(businessID, cycleID string, txs []*domain.Transaction, composites map[string]float64) (*domain.Invoice, error) {
	inv := &domain.Invoice{
		ID:         uuid.New().String(),
		BusinessID: businessID,
		CycleID:    cycleID,
		Subtotal:   decimal.Zero,
		CreatedAt:  time.Now().UTC(),
	}

	for _, tx := range txs {
		composite, ok := composites[tx.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no composite score for transaction %s", domain.ErrValidation, tx.ID)
		}

		line, err := c.Line(tx, composite)
		if err != nil {
			return nil, err
		}

		inv.Lines = append(inv.Lines, line)
		inv.Subtotal = inv.Subtotal.Add(line.RewardAmount)
	}

	inv.AdminFee = inv.Subtotal.Mul(c.adminFee).Round(2)
	inv.Total = inv.Subtotal.Add(inv.AdminFee)
	return inv, nil
}
