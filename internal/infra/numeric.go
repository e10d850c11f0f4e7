package infra

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

var (
	errNullAmount    = errors.New("amount is NULL")
	errNotFinite     = errors.New("amount is not a finite number")
	ten              = big.NewInt(10)
)

// MinorUnits reads a numeric(15,0) money column as whole minor units (cents).
// Values with a fractional part are rejected rather than rounded.
func MinorUnits(n pgtype.Numeric) (int64, error) {
	switch {
	case !n.Valid:
		return 0, errNullAmount
	case n.NaN || n.InfinityModifier != pgtype.Finite:
		return 0, errNotFinite
	}

	v := new(big.Int)
	if n.Int != nil {
		v.Set(n.Int)
	}
	scale := new(big.Int).Exp(ten, big.NewInt(int64(abs32(n.Exp))), nil)
	if n.Exp >= 0 {
		v.Mul(v, scale)
	} else {
		var rem big.Int
		v.QuoRem(v, scale, &rem)
		if rem.Sign() != 0 {
			return 0, fmt.Errorf("amount %se%d has a fractional minor unit", n.Int, n.Exp)
		}
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", v)
	}
	return v.Int64(), nil
}

// MinorUnitsNumeric is the write-side counterpart of MinorUnits.
func MinorUnitsNumeric(v int64) pgtype.Numeric {
	return pgtype.Numeric{Int: big.NewInt(v), InfinityModifier: pgtype.Finite, Valid: true}
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
