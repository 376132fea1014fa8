package orderbook

import (
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// Оценки исполнения по уровням стакана; стакан не мутируют.

// QtyForNotional — сколько монет купим на budget, идя по аскам
// от лучшей цены. Возвращает набранный объём, среднюю цену и
// фактически потраченную сумму (стакан может кончиться раньше).
func QtyForNotional(asks []domain.PriceLevel, budget decimal.Decimal) (qty, avgPrice, spent decimal.Decimal) {
	if budget.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	for _, lv := range asks {
		remain := budget.Sub(spent)
		if remain.Sign() <= 0 {
			break
		}
		levelCost := lv.Price.Mul(lv.Quantity)
		if levelCost.LessThanOrEqual(remain) {
			spent = spent.Add(levelCost)
			qty = qty.Add(lv.Quantity)
			continue
		}
		// добираем частично
		take := remain.Div(lv.Price)
		spent = spent.Add(take.Mul(lv.Price))
		qty = qty.Add(take)
		break
	}
	if qty.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return qty, spent.Div(qty), spent
}

// NotionalForQty — выручка за продажу qty монет по бидам от лучшей
// цены. Возвращает выручку, среднюю цену и реально проданный объём.
func NotionalForQty(bids []domain.PriceLevel, qty decimal.Decimal) (proceeds, avgPrice, sold decimal.Decimal) {
	if qty.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	for _, lv := range bids {
		remain := qty.Sub(sold)
		if remain.Sign() <= 0 {
			break
		}
		take := lv.Quantity
		if take.GreaterThan(remain) {
			take = remain
		}
		proceeds = proceeds.Add(take.Mul(lv.Price))
		sold = sold.Add(take)
	}
	if sold.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	return proceeds, proceeds.Div(sold), sold
}
