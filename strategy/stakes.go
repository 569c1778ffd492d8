package strategy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/roulettebot/types"
)

// MaxStages is the length of the martingale ladder
const MaxStages = 10

// StakeTable is the amount wagered at each stage
type StakeTable [MaxStages]decimal.Decimal

// DefaultStakeTable doubles from 1.50
func DefaultStakeTable() StakeTable {
	var t StakeTable
	amount := decimal.RequireFromString("1.50")
	for i := range t {
		t[i] = amount
		amount = amount.Mul(decimal.NewFromInt(2))
	}
	return t
}

// NewStakeTable scales values by multiplier and rounds to cents.
// Exactly MaxStages positive entries are required.
func NewStakeTable(values []decimal.Decimal, multiplier decimal.Decimal) (StakeTable, error) {
	var t StakeTable
	if len(values) != MaxStages {
		return t, fmt.Errorf("stake table needs %d entries, got %d", MaxStages, len(values))
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	if !multiplier.IsPositive() {
		return t, fmt.Errorf("stake multiplier must be positive, got %s", multiplier)
	}

	for i, v := range values {
		amount := types.Stake(v.Mul(multiplier))
		if !amount.IsPositive() {
			return t, fmt.Errorf("stake %d must be positive, got %s", i+1, amount)
		}
		t[i] = amount
	}
	return t, nil
}

// Total is the bankroll needed to cover a full losing ladder
func (t StakeTable) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range t {
		sum = sum.Add(v)
	}
	return sum
}

func (t StakeTable) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = v.StringFixed(2)
	}
	return strings.Join(parts, ", ")
}
