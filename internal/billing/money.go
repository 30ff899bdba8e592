package billing

import (
	"fmt"
)

// Credit is the internal unit of account in nanodollars. Metering produces
// sub-cent amounts, so the internal scale is finer than the persistence
// scale: all ledger columns are integer cents, and the cents boundary is the
// only place a Credit is converted.
type Credit int64

// NanoPerCent is the scale between the internal and persisted representations
const NanoPerCent Credit = 10_000_000

// FromCents converts integer cents to a Credit
func FromCents(cents int64) Credit {
	return Credit(cents) * NanoPerCent
}

// FromNano converts raw nanodollars to a Credit
func FromNano(nano int64) Credit {
	return Credit(nano)
}

// Nano returns the raw nanodollar value
func (c Credit) Nano() int64 {
	return int64(c)
}

// Cents truncates toward zero to integer cents, the persistence unit.
// Sub-cent remainders are the caller's to carry.
func (c Credit) Cents() int64 {
	return int64(c / NanoPerCent)
}

// Remainder returns the sub-cent part left over after Cents
func (c Credit) Remainder() Credit {
	return c % NanoPerCent
}

// String renders the amount in dollars for logs
func (c Credit) String() string {
	nano := int64(c)
	sign := ""
	if nano < 0 {
		sign = "-"
		nano = -nano
	}
	return fmt.Sprintf("%s$%d.%02d", sign, nano/1_000_000_000, (nano/10_000_000)%100)
}
