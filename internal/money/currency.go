package money

// exponents lists currencies whose minor unit is not 1/100 of the major unit.
var exponents = map[string]int32{
	"JPY": 0,
	"CLP": 0,
	"KWD": 3,
	"BHD": 3,
}

// Exponent returns the number of decimal places of a currency's minor unit.
func Exponent(currency string) int32 {
	if e, ok := exponents[currency]; ok {
		return e
	}

	return 2
}
