package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is positive (in minor units).
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

// ParseTipAmount converts a raw client-supplied amount into minor units.
// Non-numeric, fractional, infinite and negative inputs are rejected with INVALID_TIP_AMOUNT.
func ParseTipAmount(raw string) (int64, error) {
	if raw == "" {
		return 0, ErrInvalidTipAmount("tip amount is required")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidTipAmount(fmt.Sprintf("tip amount %q is not a number", raw))
	}
	if f < 0 {
		return 0, ErrInvalidTipAmount("tip amount must not be negative")
	}
	if f != math.Trunc(f) {
		return 0, ErrInvalidTipAmount("tip amount must be a whole number of minor units")
	}
	if f > math.MaxInt64/2 {
		return 0, ErrInvalidTipAmount("tip amount is too large")
	}
	return int64(f), nil
}

// ValidateTipAmount checks an already-numeric tip amount.
func ValidateTipAmount(amount int64) error {
	if amount < 0 {
		return ErrInvalidTipAmount("tip amount must not be negative")
	}
	return nil
}
