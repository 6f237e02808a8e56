package pricing

// CartLine is a single product line in the caller's cart.
type CartLine struct {
	ProductID      string `json:"productId"`
	UnitPrice      Money  `json:"unitPrice"`
	Quantity       int    `json:"quantity"`
	IsVirtual      bool   `json:"isVirtual,omitempty"`
	IsDownloadable bool   `json:"isDownloadable,omitempty"`
}

// Cart is an ordered list of lines. The subtotal is always derived from the lines.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// LineTotal returns price * quantity, treating negative prices as zero and
// non-positive quantities as an empty line.
func (l CartLine) LineTotal() Money {
	if l.Quantity <= 0 {
		return zero
	}
	return nonNegative(l.UnitPrice).Mul(decimalInt(l.Quantity))
}

// Subtotal sums all line totals at full precision.
func (c Cart) Subtotal() Money {
	total := zero
	for _, line := range c.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// AllDigital reports whether the cart is non-empty and no line needs a physical shipment.
func (c Cart) AllDigital() bool {
	if c.IsEmpty() {
		return false
	}
	for _, line := range c.Lines {
		if !line.IsVirtual && !line.IsDownloadable {
			return false
		}
	}
	return true
}
