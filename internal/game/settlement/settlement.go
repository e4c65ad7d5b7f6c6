// Package settlement computes the outcome of one spin. It has no I/O; the
// only nondeterminism is the uniform draw taken from the Engine's Source.
package settlement

import (
	"math"
	"math/rand/v2"
)

// HouseEdge is added to every spin regardless of the wager.
const HouseEdge = -2

// MaxBalance is the largest balance a spin can produce. Balances above it
// are no longer exact as JSON numbers.
const MaxBalance = 1<<53 - 1

// Source yields uniform draws in [0, 1).
type Source interface {
	Float64() float64
}

// SourceFunc adapts a function to Source.
type SourceFunc func() float64

func (f SourceFunc) Float64() float64 {
	return f()
}

// Fixed always draws u. For tests and replays.
func Fixed(u float64) Source {
	return SourceFunc(func() float64 { return u })
}

// Outcome is the result of one settlement.
type Outcome struct {
	// Wager is min(balance, risk): the most the spin can win or lose before
	// the house edge.
	Wager float64

	// RawChange is round(signal*Wager + HouseEdge) before the zero floor
	// and the MaxBalance cap.
	RawChange int64

	// NetChange is the delta actually applied: NewBalance - balance.
	// It differs from RawChange only when the floor absorbs part of a loss
	// or the cap absorbs part of a win.
	NetChange int64

	NewBalance int64
}

type Engine struct {
	src Source
}

// NewEngine returns an Engine drawing from src, or from the runtime-seeded
// math/rand/v2 generator when src is nil.
func NewEngine(src Source) *Engine {
	if src == nil {
		src = SourceFunc(rand.Float64)
	}
	return &Engine{src: src}
}

// Settle computes one spin for the given balance and requested risk.
// Negative or NaN inputs are treated as zero. The result is clamped to
// [0, MaxBalance].
func (e *Engine) Settle(balance int64, risk float64) Outcome {
	balance = min(max(balance, 0), MaxBalance)
	if !(risk > 0) {
		risk = 0
	}

	wager := math.Min(float64(balance), risk)
	signal := (e.src.Float64() - 0.5) * 2
	raw := roundHalfUp(signal*wager + HouseEdge)

	// |raw| <= balance+3, so the sum cannot overflow int64.
	newBalance := min(max(balance+raw, 0), MaxBalance)

	return Outcome{
		Wager:      wager,
		RawChange:  raw,
		NetChange:  newBalance - balance,
		NewBalance: newBalance,
	}
}

// roundHalfUp rounds .5 toward positive infinity: -2.5 -> -2, 2.5 -> 3.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
