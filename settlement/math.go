// Package settlement moves value between accounts and ledger custody and
// books the side effects every successful sale shares: payout split,
// reputation, transaction history and price history.
package settlement

import (
	"math"

	"github.com/holiman/uint256"
	"github.com/tolelom/tolmart/core"
)

var bipsDenominator = uint256.NewInt(core.BipsDenominator)

// MulBips returns floor(amount*bips/10000). The product is formed in 256
// bits so it cannot wrap.
func MulBips(amount uint64, bips uint16) (uint64, error) {
	return MulDiv(amount, uint64(bips), core.BipsDenominator)
}

// MulDiv returns floor(x*y/d) or ErrOverflow if the quotient does not fit
// in 64 bits.
func MulDiv(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, core.Errorf(core.ErrInvalidParameters, "division by zero")
	}
	den := bipsDenominator
	if d != core.BipsDenominator {
		den = uint256.NewInt(d)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), den)
	if overflow || !z.IsUint64() {
		return 0, core.Errorf(core.ErrOverflow, "%d*%d/%d", x, y, d)
	}
	return z.Uint64(), nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, core.Errorf(core.ErrOverflow, "%d+%d", a, b)
	}
	return a + b, nil
}

// Sum adds every value, failing on overflow.
func Sum(values ...uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Payout is how a sale price is divided.
type Payout struct {
	Fee     uint64 `json:"fee"`
	Royalty uint64 `json:"royalty"`
	Seller  uint64 `json:"seller"`
}

// Split divides price into marketplace fee, royalty and seller remainder.
// Fee and royalty are both floored against the full price, so
// Fee+Royalty+Seller == price always holds.
func Split(price uint64, royaltyBips, feeBips uint16) (Payout, error) {
	if uint32(royaltyBips)+uint32(feeBips) > core.BipsDenominator {
		return Payout{}, core.Errorf(core.ErrInvalidParameters, "royalty %d + fee %d bips exceed 100%%", royaltyBips, feeBips)
	}
	fee, err := MulBips(price, feeBips)
	if err != nil {
		return Payout{}, err
	}
	royalty, err := MulBips(price, royaltyBips)
	if err != nil {
		return Payout{}, err
	}
	return Payout{Fee: fee, Royalty: royalty, Seller: price - fee - royalty}, nil
}
