package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Decimal возвращает строку в формате "100.000.000,00"
func Decimal(d decimal.Decimal) string {
	s := d.StringFixed(8)
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}

	// Убираем лишние нули справа, но оставляем хотя бы один знак
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}

	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}

	// Форматируем целую часть с разделителями тысяч
	var out []byte
	cnt := 0
	for i := len(intPart) - 1; i >= 0; i-- {
		out = append(out, intPart[i])
		cnt++
		if cnt%3 == 0 && i != 0 {
			out = append(out, '.')
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	res := string(out) + "," + frac
	if neg {
		res = "-" + res
	}
	return res
}
