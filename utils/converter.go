package utils

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var bps = new(big.Int).SetUint64(BasisPoints)

func WeiToETH(wei *big.Int) string {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	return f.Text('f', 18)
}

func ETHToWei(eth string) (*big.Int, error) {
	d, err := decimal.NewFromString(eth)
	if err != nil {
		return nil, err
	}
	return d.Shift(18).BigInt(), nil
}

// ParseAmount parses a base-unit decimal integer string.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid amount")
	}
	if v.Sign() < 0 {
		return nil, errors.New("negative amount")
	}
	return v, nil
}

// MulBps returns amount * bp / 10000, rounded down.
func MulBps(amount *big.Int, bp uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bp))
	return out.Quo(out, bps)
}

// Copy returns a copy of v, treating nil as zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// SubFloor returns a - b, or zero when b > a.
func SubFloor(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(a, b)
}

func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func IsPositive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
