// Package decimal implements exact fixed-point money arithmetic over
// arbitrary-precision integers. Amounts are scaled to a fixed number of
// fractional digits and never pass through a float on the way in or out.
package decimal

import (
	"errors"
	"math"
	"math/big"
	"regexp"
	"strings"
)

// DefaultPrecision is the number of fractional digits carried by scaled amounts.
const DefaultPrecision = 6

// BasisPoints is the share denominator: 10,000 bps == 100%.
const BasisPoints = 10_000

// ShareType selects how a share value is interpreted by ComputeAmount.
type ShareType string

const (
	ShareBasisPoints ShareType = "basis_points"
	SharePercent     ShareType = "percent"
	ShareRatio       ShareType = "ratio"
)

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidShare     = errors.New("invalid_share")
	ErrInvalidShareType = errors.New("invalid_share_type")
)

var amountPattern = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)

// ToScaled parses a decimal string into an integer scaled by 10^precision.
// Excess fractional digits are rounded half-up on the first discarded digit,
// with carry into the integer part. An empty string scales to zero.
func ToScaled(value string, precision int) (*big.Int, error) {
	str := strings.TrimSpace(value)
	if str == "" {
		return big.NewInt(0), nil
	}
	if !amountPattern.MatchString(str) {
		return nil, ErrInvalidAmount
	}

	negative := strings.HasPrefix(str, "-")
	if negative || strings.HasPrefix(str, "+") {
		str = str[1:]
	}

	integerPart := str
	fractionalPart := ""
	if idx := strings.IndexByte(str, '.'); idx >= 0 {
		integerPart = str[:idx]
		fractionalPart = str[idx+1:]
	}

	carry := big.NewInt(0)
	if len(fractionalPart) > precision {
		roundingDigit := fractionalPart[precision]
		fractionalPart = fractionalPart[:precision]
		if roundingDigit >= '5' {
			frac := parseDigits(fractionalPart)
			frac.Add(frac, big.NewInt(1))
			limit := pow10(precision)
			if frac.Cmp(limit) >= 0 {
				carry.SetInt64(1)
				frac.Sub(frac, limit)
			}
			fractionalPart = padLeft(frac.String(), precision)
		}
	}
	for len(fractionalPart) < precision {
		fractionalPart += "0"
	}

	result := parseDigits(integerPart)
	result.Add(result, carry)
	result.Mul(result, pow10(precision))
	result.Add(result, parseDigits(fractionalPart))
	if negative {
		result.Neg(result)
	}
	return result, nil
}

// FromScaled renders a scaled integer back into a minimal decimal string:
// trailing fractional zeros trimmed, integer part never empty.
func FromScaled(value *big.Int, precision int) string {
	negative := value.Sign() < 0
	absolute := new(big.Int).Abs(value)

	quo, rem := new(big.Int).QuoRem(absolute, pow10(precision), new(big.Int))
	fraction := strings.TrimRight(padLeft(rem.String(), precision), "0")

	out := quo.String()
	if fraction != "" {
		out += "." + fraction
	}
	if negative && out != "0" {
		out = "-" + out
	}
	return out
}

// ComputeAmount applies a share to a gross decimal amount and re-serializes at
// the given precision. The share is normalized to whole basis points first;
// the basis-point division rounds half away from zero on the integer quotient.
func ComputeAmount(gross string, share float64, shareType ShareType, precision int) (string, error) {
	if math.IsNaN(share) || math.IsInf(share, 0) {
		return "", ErrInvalidShare
	}

	var shareScaled int64
	switch shareType {
	case ShareBasisPoints:
		shareScaled = int64(math.Round(share))
	case SharePercent:
		shareScaled = int64(math.Round(share * 100))
	case ShareRatio:
		shareScaled = int64(math.Round(share * BasisPoints))
	default:
		return "", ErrInvalidShareType
	}
	if shareScaled < 0 {
		return "", ErrInvalidShare
	}

	scaledGross, err := ToScaled(gross, precision)
	if err != nil {
		return "", err
	}

	numerator := new(big.Int).Mul(scaledGross, big.NewInt(shareScaled))
	half := big.NewInt(BasisPoints / 2)
	if numerator.Sign() >= 0 {
		numerator.Add(numerator, half)
	} else {
		numerator.Sub(numerator, half)
	}
	// big.Int Quo truncates toward zero, so adding/subtracting half first
	// yields round-half-away-from-zero symmetrically.
	numerator.Quo(numerator, big.NewInt(BasisPoints))
	return FromScaled(numerator, precision), nil
}

func parseDigits(digits string) *big.Int {
	if digits == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func padLeft(digits string, width int) string {
	for len(digits) < width {
		digits = "0" + digits
	}
	return digits
}
