package contract

import (
	"fmt"
	"math/big"
	"strings"
)

// nativeDecimals is the precision of the chain's native currency.
const nativeDecimals = 18

// ParseUnits converts a decimal major-unit amount such as "1.5" into minor
// units without ever rounding through a float. Only strictly positive plain
// decimals are accepted.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
		}
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, amount, decimals)
	}

	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return value, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
