package pricing

import "strings"

// PaymentCOD is the cash-on-delivery payment method identifier.
const PaymentCOD = "cod"

// FeeTable maps a payment method identifier to a flat surcharge.
type FeeTable map[string]Money

// DefaultFees returns a table charging codFee for cash on delivery.
func DefaultFees(codFee Money) FeeTable {
	return FeeTable{PaymentCOD: codFee}
}

// CanonicalPaymentMethod normalises a payment method identifier.
func CanonicalPaymentMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}

// ComputeSurcharge returns the fee for method, or zero for unknown methods.
func ComputeSurcharge(method string, table FeeTable) Money {
	fee, ok := table[CanonicalPaymentMethod(method)]
	if !ok {
		return zero
	}
	return nonNegative(fee)
}
