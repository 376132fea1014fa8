package cli

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/shared/format"
)

type CLIPresenter struct{}

func NewCLIPresenter() *CLIPresenter { return &CLIPresenter{} }

func (c *CLIPresenter) Infof(format string, args ...any) { fmt.Printf(format, args...) }
func (c *CLIPresenter) Warnf(format string, args ...any) { fmt.Printf(format, args...) }

// ShowTopOfBook — верх стакана отсортированными парами ask/bid.
// Уровни печатаются от лучшей цены наружу.
func (c *CLIPresenter) ShowTopOfBook(symbol, state string, bids, asks []domain.PriceLevel) {
	fmt.Printf("\n=== %s (поток: %s) ===\n", symbol, state)
	if len(bids) == 0 && len(asks) == 0 {
		fmt.Println("Стакан пуст — ждём синхронизации")
		return
	}
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Printf("  ask %s x %s\n", format.Decimal(asks[i].Price), format.Decimal(asks[i].Quantity))
	}
	fmt.Println("  ----")
	for _, b := range bids {
		fmt.Printf("  bid %s x %s\n", format.Decimal(b.Price), format.Decimal(b.Quantity))
	}
	if len(bids) > 0 && len(asks) > 0 {
		spread := asks[0].Price.Sub(bids[0].Price)
		fmt.Printf("Спред: %s\n", format.Decimal(spread))
	}
}

// ShowCostPreview — оценка покупки на budget USDT по текущим аскам.
func (c *CLIPresenter) ShowCostPreview(budget, qty, avgPrice, spent decimal.Decimal) {
	if qty.IsZero() {
		fmt.Println("Ликвидности нет — оценить нечего")
		return
	}
	fmt.Printf("На %s USDT: %s по средней %s USDT\n",
		format.Decimal(budget), format.Decimal(qty), format.Decimal(avgPrice))
	if spent.LessThan(budget) {
		fmt.Printf("Аски исчерпаны: потрачено %s USDT, остаток %s USDT\n",
			format.Decimal(spent), format.Decimal(budget.Sub(spent)))
	}
}

// ShowProceedsPreview — оценка выручки от продажи qty по текущим бидам.
func (c *CLIPresenter) ShowProceedsPreview(qty, proceeds, avgPrice, sold decimal.Decimal) {
	if sold.IsZero() {
		fmt.Println("Ликвидности нет — оценить нечего")
		return
	}
	fmt.Printf("Продажа %s: выручка %s USDT по средней %s USDT\n",
		format.Decimal(sold), format.Decimal(proceeds), format.Decimal(avgPrice))
	if sold.LessThan(qty) {
		fmt.Printf("Биды исчерпаны: продастся только %s из %s\n",
			format.Decimal(sold), format.Decimal(qty))
	}
}

// ShowOrder — одна заявка со статусом и исполнением.
func (c *CLIPresenter) ShowOrder(o domain.Order) {
	fmt.Printf("  %s  %s %s %s x %s  статус=%s  исполнено=%s\n",
		o.ClientID, o.Symbol, o.Side,
		format.Decimal(o.Quantity), format.Decimal(o.Price),
		o.Status, format.Decimal(o.Filled))
}

// ShowOrders — все отслеживаемые заявки, свежие сверху.
func (c *CLIPresenter) ShowOrders(orders []domain.Order) {
	if len(orders) == 0 {
		fmt.Println("Заявок нет")
		return
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].UpdatedAt > orders[j].UpdatedAt })
	for _, o := range orders {
		c.ShowOrder(o)
	}
}
