package domain

import (
	"math"
	"math/bits"
)

// MaxPriceMinor верхняя граница цены товара: 10 000 000.00 за единицу.
const MaxPriceMinor int64 = 1_000_000_000

// MulMinor возвращает price × qty или ErrAmountOverflow, если произведение
// не помещается в int64. Отрицательные аргументы не принимаются.
func MulMinor(price int64, qty int32) (int64, error) {
	if price < 0 {
		return 0, ErrItemPriceInvalid
	}
	if qty < 0 {
		return 0, ErrItemQtyInvalid
	}
	hi, lo := bits.Mul64(uint64(price), uint64(qty))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrAmountOverflow
	}
	return int64(lo), nil
}

// AddMinor складывает суммы с проверкой переполнения.
func AddMinor(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}
