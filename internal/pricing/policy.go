package pricing

import "github.com/shopspring/decimal"

// Policy is the versioned commission schedule applied to pledges and
// executions. Call sites never hardcode a rate; the policy is injected so
// the rate recorded on an execution record always matches what was
// charged.
type Policy struct {
	Version string
	Rate    decimal.Decimal // fraction of value, e.g. 0.02 for 2%
}

// DefaultPolicy is the launch schedule: 2% platform fee and commission.
func DefaultPolicy() Policy {
	return Policy{
		Version: "v1",
		Rate:    decimal.NewFromFloat(0.02),
	}
}

// NewPolicy builds a policy from a configured rate.
func NewPolicy(version string, rate float64) Policy {
	return Policy{
		Version: version,
		Rate:    decimal.NewFromFloat(rate),
	}
}

// RateFloat returns the rate for persistence on execution records.
func (p Policy) RateFloat() float64 {
	f, _ := p.Rate.Float64()
	return f
}

// PledgeValue computes qty * price without float accumulation error.
func PledgeValue(qty int64, price float64) float64 {
	v, _ := decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(price)).Float64()
	return v
}

// PlatformFee computes the fee charged on a pledge's total amount at
// creation time, rounded to the nearest paisa.
func (p Policy) PlatformFee(totalAmount float64) float64 {
	fee, _ := decimal.NewFromFloat(totalAmount).Mul(p.Rate).Round(2).Float64()
	return fee
}

// Commission computes the platform commission on an execution value,
// rounded to the nearest paisa.
func (p Policy) Commission(executionValue float64) float64 {
	c, _ := decimal.NewFromFloat(executionValue).Mul(p.Rate).Round(2).Float64()
	return c
}
