package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Command — разобранная команда интерактивного терминала.
type Command struct {
	// book | buy | sell | cost | proceeds | cancel | status | reconcile | quit
	Name string

	// buy/sell
	Quantity decimal.Decimal
	Price    decimal.Decimal

	// cost — бюджет в USDT, proceeds — количество монеты
	Amount decimal.Decimal

	// cancel/reconcile/status
	ClientID string
}

// PrintHelp — список команд терминала.
func PrintHelp() {
	fmt.Println("Команды:")
	fmt.Println("  book                    — верх стакана и состояние потока")
	fmt.Println("  buy <кол-во> <цена>     — лимитная заявка на покупку")
	fmt.Println("  sell <кол-во> <цена>    — лимитная заявка на продажу")
	fmt.Println("  cost <USDT>             — оценка покупки на сумму по текущим аскам")
	fmt.Println("  proceeds <кол-во>       — оценка выручки от продажи по текущим бидам")
	fmt.Println("  cancel <id>             — отменить заявку")
	fmt.Println("  status [id]             — статус заявки (без id — все)")
	fmt.Println("  reconcile <id>          — сверить заявку с биржей")
	fmt.Println("  quit                    — выход")
}

// ReadCommand — читает и разбирает одну команду. Пустая строка пропускается
// (возвращается ok=false), ошибки разбора печатаются тут же.
func ReadCommand(r *bufio.Reader) (Command, bool) {
	fmt.Print("> ")
	raw, err := r.ReadString('\n')
	if err != nil {
		return Command{Name: "quit"}, true
	}
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return Command{}, false
	}

	cmd := Command{Name: strings.ToLower(fields[0])}
	switch cmd.Name {
	case "book", "quit":
		return cmd, true

	case "buy", "sell":
		if len(fields) != 3 {
			fmt.Printf("Использование: %s <кол-во> <цена>\n", cmd.Name)
			return Command{}, false
		}
		qty, err := parseAmount(fields[1])
		if err != nil {
			fmt.Printf("Некорректное количество %q\n", fields[1])
			return Command{}, false
		}
		price, err := parseAmount(fields[2])
		if err != nil {
			fmt.Printf("Некорректная цена %q\n", fields[2])
			return Command{}, false
		}
		cmd.Quantity, cmd.Price = qty, price
		return cmd, true

	case "cost", "proceeds":
		if len(fields) != 2 {
			fmt.Printf("Использование: %s <значение>\n", cmd.Name)
			return Command{}, false
		}
		v, err := parseAmount(fields[1])
		if err != nil {
			fmt.Printf("Некорректное значение %q\n", fields[1])
			return Command{}, false
		}
		cmd.Amount = v
		return cmd, true

	case "cancel", "reconcile":
		if len(fields) != 2 {
			fmt.Printf("Использование: %s <id>\n", cmd.Name)
			return Command{}, false
		}
		cmd.ClientID = fields[1]
		return cmd, true

	case "status":
		if len(fields) > 1 {
			cmd.ClientID = fields[1]
		}
		return cmd, true

	case "help", "?":
		PrintHelp()
		return Command{}, false

	default:
		fmt.Printf("Неизвестная команда %q, help — список команд\n", cmd.Name)
		return Command{}, false
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	// поддержим запятую как разделитель
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("значение должно быть положительным")
	}
	return d, nil
}
