package sanitize

import "github.com/shopspring/decimal"

// decimalToFloatPtr and floatPtrToDecimal bridge the wire-level
// decimal.Decimal payload fields to plain float64 pointers for the
// carry-forward cache merge logic, which only cares about presence/
// absence, not precision.
func decimalToFloatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

func floatPtrToDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
