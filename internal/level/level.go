// Package level maps raw values onto step-aligned levels.
//
// Arithmetic is carried out on the shortest decimal representation of the
// float inputs, so a value that sits exactly half way between two levels
// always rounds up (towards +Inf) and repeated calls never alternate.
package level

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var half = decimal.NewFromFloat(0.5)

// Quantize returns the multiple of step nearest to value, ties rounding up.
// step must be positive and finite, value must be finite.
func Quantize(value, step float64) float64 {
	s := mustStep(step)
	return decimal.NewFromInt(index(value, s)).Mul(s).InexactFloat64()
}

// Index returns n such that n*step is the level nearest to value.
func Index(value, step float64) int64 {
	return index(value, mustStep(step))
}

// Same reports whether a and b quantize to the same level. Levels read back
// from storage compare equal to freshly computed ones even if the text
// round trip changed the last bit.
func Same(a, b, step float64) bool {
	s := mustStep(step)
	return index(a, s) == index(b, s)
}

// Places is the number of fractional digits needed to print levels of step.
func Places(step float64) int32 {
	exp := mustStep(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// Format renders a level with the precision implied by step.
func Format(value, step float64) string {
	return decimal.NewFromFloat(value).StringFixed(Places(step))
}

func index(value float64, step decimal.Decimal) int64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		panic(fmt.Sprintf("level: non-finite value %v", value))
	}
	return decimal.NewFromFloat(value).Div(step).Add(half).Floor().IntPart()
}

func mustStep(step float64) decimal.Decimal {
	if !(step > 0) || math.IsInf(step, 0) {
		panic(fmt.Sprintf("level: step must be positive and finite, got %v", step))
	}
	return decimal.NewFromFloat(step)
}
