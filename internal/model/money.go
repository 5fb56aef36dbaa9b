package model

// Money is an amount in minor currency units (cents).
type Money int64

// ComposeFee adds a platform surcharge expressed in basis points to a base
// consultation fee, rounding half up to the minor unit.
func ComposeFee(base Money, platformFeeBasisPoints int64) Money {
	if platformFeeBasisPoints <= 0 {
		return base
	}
	surcharge := (int64(base)*platformFeeBasisPoints + 5000) / 10000
	return base + Money(surcharge)
}
