// Package contract validates the identifiers that cross the contract
// boundary: account and contract addresses, native denominations, token ids
// and token amounts.
package contract

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/rwastockholm/custody-engine/internal/model"
)

// addressRegex matches bech32-shaped addresses: {hrp}1{data}.
// Example: mantra1qx3seller9wn4
var addressRegex = regexp.MustCompile(`^[a-z]{1,16}1[0-9a-z]{6,90}$`)

// denomRegex matches native denominations such as "om", "uom" or "ibc/27394F...".
var denomRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9/:._-]{1,127}$`)

// tokenIDRegex matches cw721 token ids.
var tokenIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

var (
	ErrInvalidAddress = model.NewError(model.CodeInvalidRequest, "contract: invalid address")
	ErrInvalidDenom   = model.NewError(model.CodeInvalidRequest, "contract: invalid denomination")
	ErrInvalidTokenID = model.NewError(model.CodeInvalidRequest, "contract: invalid token id")
	ErrInvalidAmount  = model.NewError(model.CodeInvalidRequest, "contract: invalid amount")
)

// MaxAmount is the largest token amount representable on chain (2^128 - 1).
var MaxAmount = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)

// ValidateAddress checks that addr is a bech32-shaped account or contract address.
func ValidateAddress(addr string) error {
	if !addressRegex.MatchString(addr) {
		return fmt.Errorf("%w: %q (expected {prefix}1{data})", ErrInvalidAddress, addr)
	}
	return nil
}

// ValidateDenom checks a native denomination.
func ValidateDenom(denom string) error {
	if !denomRegex.MatchString(denom) {
		return fmt.Errorf("%w: %q", ErrInvalidDenom, denom)
	}
	return nil
}

// ValidateTokenID checks a non-fungible token id.
func ValidateTokenID(id string) error {
	if !tokenIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTokenID, id)
	}
	return nil
}

// ValidateAmount checks that a is a whole number in [0, MaxAmount], and
// strictly positive unless allowZero is set.
func ValidateAmount(a decimal.Decimal, allowZero bool) error {
	switch {
	case a.IsNegative():
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, a)
	case !a.Equal(a.Truncate(0)):
		return fmt.Errorf("%w: %s is fractional", ErrInvalidAmount, a)
	case a.GreaterThan(MaxAmount):
		return fmt.Errorf("%w: %s exceeds 2^128-1", ErrInvalidAmount, a)
	case a.IsZero() && !allowZero:
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return nil
}

// ValidateCoin checks a price or payment coin.
func ValidateCoin(c model.Coin) error {
	if err := ValidateDenom(c.Denom); err != nil {
		return err
	}
	return ValidateAmount(c.Amount, false)
}

// ValidateFunds checks every attached coin. Zero-amount coins are rejected
// the way the bank module rejects them.
func ValidateFunds(funds []model.Coin) error {
	for _, c := range funds {
		if err := ValidateCoin(c); err != nil {
			return err
		}
	}
	return nil
}
