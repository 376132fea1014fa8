package format

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100000000", "100.000.000,0"},
		{"1234.5", "1.234,5"},
		{"0.00012300", "0,000123"},
		{"-42000.25", "-42.000,25"},
		{"0", "0,0"},
	}
	for _, c := range cases {
		d, err := decimal.NewFromString(c.in)
		if err != nil {
			t.Fatalf("NewFromString(%q): %v", c.in, err)
		}
		if got := Decimal(d); got != c.want {
			t.Fatalf("Decimal(%s) = %q, ожидали %q", c.in, got, c.want)
		}
	}
}
