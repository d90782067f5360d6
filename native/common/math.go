package common

import "math/big"

// BpsDenominator is the fixed basis-point denominator shared by every fee and
// weighting computation.
const BpsDenominator = 10_000

var bpsDenom = big.NewInt(BpsDenominator)

// PercentOf returns amount * bps / 10000 using truncating division. A nil or
// non-positive amount yields zero.
func PercentOf(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return out.Div(out, bpsDenom)
}

// Proportion returns amount * share / total, explicitly yielding zero when the
// denominator is zero. Every proportional split in the settlement engines
// routes through this guard rather than trusting silent truncation.
func Proportion(amount, share, total *big.Int) *big.Int {
	if amount == nil || share == nil || total == nil {
		return big.NewInt(0)
	}
	if amount.Sign() <= 0 || share.Sign() <= 0 || total.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, share)
	return out.Div(out, total)
}

// CopyBig returns a defensive copy of v, mapping nil to zero.
func CopyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MinBig returns the smaller of a and b as a fresh value.
func MinBig(a, b *big.Int) *big.Int {
	if a == nil {
		return CopyBig(b)
	}
	if b == nil {
		return CopyBig(a)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
