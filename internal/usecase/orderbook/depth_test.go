package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

func TestQtyForNotional(t *testing.T) {
	asks := []domain.PriceLevel{lv("100", "1"), lv("110", "2")}

	qty, avg, spent := QtyForNotional(asks, decimal.NewFromInt(100))
	if !qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("qty=%s want=1", qty)
	}
	if !avg.Equal(decimal.NewFromInt(100)) || !spent.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("avg=%s spent=%s", avg, spent)
	}

	// бюджета хватает на первый уровень и половину второго
	qty, _, spent = QtyForNotional(asks, decimal.NewFromInt(210))
	if !qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("qty=%s want=2", qty)
	}
	if !spent.Equal(decimal.NewFromInt(210)) {
		t.Fatalf("spent=%s want=210", spent)
	}

	// пустой стакан / нулевой бюджет
	if q, _, _ := QtyForNotional(nil, decimal.NewFromInt(10)); !q.IsZero() {
		t.Fatalf("qty=%s на пустом стакане", q)
	}
	if q, _, _ := QtyForNotional(asks, decimal.Zero); !q.IsZero() {
		t.Fatalf("qty=%s при нулевом бюджете", q)
	}
}

func TestNotionalForQty(t *testing.T) {
	bids := []domain.PriceLevel{lv("100", "1"), lv("90", "10")}

	proceeds, avg, sold := NotionalForQty(bids, decimal.NewFromInt(1))
	if !proceeds.Equal(decimal.NewFromInt(100)) || !avg.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("proceeds=%s avg=%s", proceeds, avg)
	}
	if !sold.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("sold=%s", sold)
	}

	// объём больше стакана: продаём сколько есть
	proceeds, _, sold = NotionalForQty(bids, decimal.NewFromInt(20))
	if !sold.Equal(decimal.NewFromInt(11)) {
		t.Fatalf("sold=%s want=11", sold)
	}
	if !proceeds.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("proceeds=%s want=1000", proceeds)
	}
}
