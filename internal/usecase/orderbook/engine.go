// Package orderbook — движок согласования стакана: снапшот плюс
// диффы строго по возрастанию секвенсов, без пропусков.
package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// Результат применения диффа.
type ApplyResult int

const (
	// Applied — дифф лёг на стакан, курсор продвинут.
	Applied ApplyResult = iota
	// Stale — дифф целиком позади курсора, состояние не тронуто.
	Stale
	// Gapped — между курсором и диффом дыра; состояние не тронуто,
	// нужен свежий снапшот.
	Gapped
)

// Engine держит стакан одного символа. Мутации — только под
// эксклюзивным локом и только в памяти; сетевые вызовы сюда не заходят.
type Engine struct {
	mu           sync.RWMutex
	symbol       string
	lastUpdateID int64
	bids         []domain.PriceLevel // по убыванию цены
	asks         []domain.PriceLevel // по возрастанию цены
}

func NewEngine(symbol string) *Engine {
	return &Engine{symbol: symbol}
}

func (e *Engine) Symbol() string { return e.symbol }

// LastUpdateID — текущий курсор секвенсов.
func (e *Engine) LastUpdateID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdateID
}

// Init замещает состояние стакана целиком снапшотом.
// Уровни с нулевым объёмом не сохраняются никогда.
func (e *Engine) Init(s *domain.Snapshot) {
	bids := cloneLevels(s.Bids)
	asks := cloneLevels(s.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	e.mu.Lock()
	e.bids = bids
	e.asks = asks
	e.lastUpdateID = s.LastUpdateID
	e.mu.Unlock()
}

// ApplyDiff — три исхода:
//   - FinalUpdateID ≤ курсора: протухший дифф, отбрасываем;
//   - диапазон диффа стыкуется с курсором: применяем уровни и
//     продвигаем курсор до FinalUpdateID;
//   - иначе дыра: ничего не меняем, возвращаем GapError.
//
// Первый дифф после снапшота может накрывать курсор серединой
// диапазона — это нормально, апдейты уровней идемпотентны.
func (e *Engine) ApplyDiff(ev *domain.DiffEvent) (ApplyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.FinalUpdateID <= e.lastUpdateID {
		return Stale, nil
	}
	if ev.FirstUpdateID > e.lastUpdateID+1 {
		return Gapped, &domain.GapError{
			Expected: e.lastUpdateID + 1,
			First:    ev.FirstUpdateID,
			Final:    ev.FinalUpdateID,
		}
	}

	for _, lv := range ev.Bids {
		e.bids = upsert(e.bids, lv, true)
	}
	for _, lv := range ev.Asks {
		e.asks = upsert(e.asks, lv, false)
	}
	e.lastUpdateID = ev.FinalUpdateID
	return Applied, nil
}

// Query возвращает топ depth уровней каждой стороны (копии, состояние
// не мутируется). depth ≤ 0 — все уровни.
func (e *Engine) Query(depth int) (bids, asks []domain.PriceLevel) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nb, na := len(e.bids), len(e.asks)
	if depth > 0 {
		if depth < nb {
			nb = depth
		}
		if depth < na {
			na = depth
		}
	}
	bids = make([]domain.PriceLevel, nb)
	asks = make([]domain.PriceLevel, na)
	copy(bids, e.bids[:nb])
	copy(asks, e.asks[:na])
	return bids, asks
}

// BestBid — лучший бид, если сторона не пуста.
func (e *Engine) BestBid() (domain.PriceLevel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.bids) == 0 {
		return domain.PriceLevel{}, false
	}
	return e.bids[0], true
}

// BestAsk — лучший аск, если сторона не пуста.
func (e *Engine) BestAsk() (domain.PriceLevel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.asks) == 0 {
		return domain.PriceLevel{}, false
	}
	return e.asks[0], true
}

// SizeAtLimit — объём на уровне price, ноль если уровня нет.
func (e *Engine) SizeAtLimit(side domain.Side, price decimal.Decimal) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	levels := e.asks
	desc := false
	if side == domain.SideBuy {
		levels = e.bids
		desc = true
	}
	i := searchLevel(levels, price, desc)
	if i < len(levels) && levels[i].Price.Equal(price) {
		return levels[i].Quantity
	}
	return decimal.Zero
}

// --- сортированные стороны ---

func searchLevel(levels []domain.PriceLevel, price decimal.Decimal, desc bool) int {
	return sort.Search(len(levels), func(i int) bool {
		c := levels[i].Price.Cmp(price)
		if desc {
			return c <= 0
		}
		return c >= 0
	})
}

func upsert(levels []domain.PriceLevel, lv domain.PriceLevel, desc bool) []domain.PriceLevel {
	i := searchLevel(levels, lv.Price, desc)
	found := i < len(levels) && levels[i].Price.Equal(lv.Price)

	switch {
	case lv.Quantity.IsZero() && found:
		return append(levels[:i], levels[i+1:]...)
	case lv.Quantity.IsZero():
		// удаление отсутствующего уровня — no-op
		return levels
	case found:
		levels[i].Quantity = lv.Quantity
		return levels
	default:
		levels = append(levels, domain.PriceLevel{})
		copy(levels[i+1:], levels[i:])
		levels[i] = lv
		return levels
	}
}

func cloneLevels(src []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(src))
	for _, lv := range src {
		if lv.Quantity.IsZero() {
			continue
		}
		out = append(out, lv)
	}
	return out
}
