package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/domain"
	"tradecore/internal/infra/ratelimit"
)

// --- фейковый адаптер исполнения ---

type fakeTrader struct {
	mu         sync.Mutex
	placeErr   error
	placeAck   domain.OrderAck
	cancelErr  error
	queryState *domain.OrderState
	queryErr   error
	placeCalls int
}

func (f *fakeTrader) Name() string { return "fake" }

func (f *fakeTrader) FetchSnapshot(context.Context, string, int) (*domain.Snapshot, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTrader) OpenStream(context.Context, string) (domain.Stream, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTrader) Normalize([]byte) (*domain.DiffEvent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTrader) PlaceOrder(_ context.Context, o *domain.Order) (*domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	ack := f.placeAck
	ack.ClientID = o.ClientID
	return &ack, nil
}

func (f *fakeTrader) CancelOrder(_ context.Context, _, clientID string) (*domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &domain.OrderAck{ClientID: clientID}, nil
}

func (f *fakeTrader) QueryOrder(_ context.Context, _, clientID string) (*domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	st := *f.queryState
	st.ClientID = clientID
	return &st, nil
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(map[string]domain.RateBudget{
		ratelimit.ClassOrder:  {Capacity: 10, RefillPerSec: 100},
		ratelimit.ClassCancel: {Capacity: 10, RefillPerSec: 100},
		ratelimit.ClassQuery:  {Capacity: 10, RefillPerSec: 100},
	}, time.Second)
}

func spec() domain.OrderSpec {
	return domain.OrderSpec{
		Symbol:   "BTCUSDT",
		Side:     domain.SideBuy,
		Price:    decimal.RequireFromString("10000"),
		Quantity: decimal.RequireFromString("0.5"),
	}
}

func TestSubmitOrderAcked(t *testing.T) {
	tr := &fakeTrader{placeAck: domain.OrderAck{ExchangeID: "E-1"}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, err := g.SubmitOrder(context.Background(), spec())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != domain.StatusAcked {
		t.Fatalf("status=%s want=ACKED", o.Status)
	}
	if o.ExchangeID != "E-1" {
		t.Fatalf("exchange id=%q", o.ExchangeID)
	}
	if o.ClientID == "" {
		t.Fatal("пустой client id")
	}

	// второй сабмит того же намерения — новый уникальный id
	o2, err := g.SubmitOrder(context.Background(), spec())
	if err != nil {
		t.Fatalf("submit#2: %v", err)
	}
	if o2.ClientID == o.ClientID {
		t.Fatal("client id переиспользован")
	}
}

func TestSubmitOrderRejected(t *testing.T) {
	tr := &fakeTrader{placeErr: &domain.RejectError{Code: -2010, Reason: "insufficient balance"}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, err := g.SubmitOrder(context.Background(), spec())
	var re *domain.RejectError
	if !errors.As(err, &re) {
		t.Fatalf("err=%v, ждали RejectError", err)
	}
	if o.Status != domain.StatusRejected {
		t.Fatalf("status=%s want=REJECTED", o.Status)
	}
}

func TestSubmitAmbiguousBlocksSameIntent(t *testing.T) {
	tr := &fakeTrader{placeErr: &domain.NetworkError{Op: "post", Err: errors.New("timeout")}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, err := g.SubmitOrder(context.Background(), spec())
	var amb *domain.AmbiguousError
	if !errors.As(err, &amb) {
		t.Fatalf("err=%v, ждали AmbiguousError", err)
	}
	if o.Status != domain.StatusUnknown {
		t.Fatalf("status=%s want=UNKNOWN", o.Status)
	}

	// то же намерение без сверки — отказ, до биржи не ходим
	before := tr.placeCalls
	if _, err := g.SubmitOrder(context.Background(), spec()); !errors.As(err, &amb) {
		t.Fatalf("повтор прошёл без сверки: %v", err)
	}
	if tr.placeCalls != before {
		t.Fatal("повтор ушёл в сеть")
	}

	// сверка: биржа заявку видела и приняла
	tr.mu.Lock()
	tr.queryState = &domain.OrderState{ExchangeID: "E-9", Status: domain.StatusAcked}
	tr.mu.Unlock()
	res, err := g.Reconcile(context.Background(), o.ClientID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Status != domain.StatusAcked || res.ExchangeID != "E-9" {
		t.Fatalf("после сверки: %+v", res)
	}

	// теперь то же намерение снова разрешено
	tr.mu.Lock()
	tr.placeErr = nil
	tr.placeAck = domain.OrderAck{ExchangeID: "E-10"}
	tr.mu.Unlock()
	if _, err := g.SubmitOrder(context.Background(), spec()); err != nil {
		t.Fatalf("submit после сверки: %v", err)
	}
}

func TestReconcileNotFoundMeansRejected(t *testing.T) {
	tr := &fakeTrader{placeErr: &domain.NetworkError{Op: "post", Err: errors.New("reset")}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, _ := g.SubmitOrder(context.Background(), spec())

	tr.mu.Lock()
	tr.queryErr = &domain.RejectError{Code: -2013, Reason: "order does not exist"}
	tr.mu.Unlock()

	res, err := g.Reconcile(context.Background(), o.ClientID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Status != domain.StatusRejected {
		t.Fatalf("status=%s want=REJECTED", res.Status)
	}

	// терминальную и подтверждённую можно снять с учёта
	if err := g.Ack(o.ClientID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, ok := g.Order(o.ClientID); ok {
		t.Fatal("заявка осталась в учёте после Ack")
	}
}

func TestCancelOrder(t *testing.T) {
	tr := &fakeTrader{placeAck: domain.OrderAck{ExchangeID: "E-1"}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, err := g.SubmitOrder(context.Background(), spec())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := g.CancelOrder(context.Background(), o.ClientID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Status != domain.StatusCancelled {
		t.Fatalf("status=%s want=CANCELLED", res.Status)
	}

	// отмена уже терминальной — no-op с текущим статусом, без сети
	res2, err := g.CancelOrder(context.Background(), o.ClientID)
	if err != nil {
		t.Fatalf("повторная отмена: %v", err)
	}
	if res2.Status != domain.StatusCancelled {
		t.Fatalf("status=%s want=CANCELLED", res2.Status)
	}
}

func TestCancelUnknownNeedsReconcile(t *testing.T) {
	tr := &fakeTrader{placeErr: &domain.NetworkError{Op: "post", Err: errors.New("timeout")}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, _ := g.SubmitOrder(context.Background(), spec())

	var amb *domain.AmbiguousError
	if _, err := g.CancelOrder(context.Background(), o.ClientID); !errors.As(err, &amb) {
		t.Fatalf("err=%v, ждали AmbiguousError", err)
	}
}

func TestCancelUntrackedOrder(t *testing.T) {
	g := New(&fakeTrader{}, testLimiter(), zap.NewNop())
	if _, err := g.CancelOrder(context.Background(), "nope"); err == nil {
		t.Fatal("отмена неизвестного id прошла")
	}
}

func TestApplyReportFillsMonotonic(t *testing.T) {
	tr := &fakeTrader{placeAck: domain.OrderAck{ExchangeID: "E-1"}}
	g := New(tr, testLimiter(), zap.NewNop())

	o, _ := g.SubmitOrder(context.Background(), spec())

	g.ApplyReport(domain.ExecReport{
		ClientID:    o.ClientID,
		ConsumedQty: decimal.RequireFromString("0.2"),
		Status:      domain.StatusPartiallyFilled,
		Timestamp:   1,
	})
	got, _ := g.Order(o.ClientID)
	if got.Status != domain.StatusPartiallyFilled || !got.Filled.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("после частичного: %+v", got)
	}

	g.ApplyReport(domain.ExecReport{
		ClientID:    o.ClientID,
		ConsumedQty: decimal.RequireFromString("0.3"),
		Status:      domain.StatusFilled,
		Timestamp:   2,
	})
	got, _ = g.Order(o.ClientID)
	if got.Status != domain.StatusFilled || !got.Filled.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("после полного: %+v", got)
	}

	// отчёт против частичного порядка игнорируется
	g.ApplyReport(domain.ExecReport{
		ClientID: o.ClientID,
		Status:   domain.StatusPartiallyFilled,
	})
	got, _ = g.Order(o.ClientID)
	if got.Status != domain.StatusFilled {
		t.Fatalf("терминальный статус перезаписан: %s", got.Status)
	}

	// отчёт по чужому id — no-op
	g.ApplyReport(domain.ExecReport{ClientID: "чужой", Status: domain.StatusFilled})
}

func TestSubmitRateLimitTimeout(t *testing.T) {
	tr := &fakeTrader{placeAck: domain.OrderAck{ExchangeID: "E-1"}}
	limiter := ratelimit.New(map[string]domain.RateBudget{
		ratelimit.ClassOrder:  {Capacity: 1, RefillPerSec: 0.001},
		ratelimit.ClassCancel: {Capacity: 1, RefillPerSec: 1},
		ratelimit.ClassQuery:  {Capacity: 1, RefillPerSec: 1},
	}, 20*time.Millisecond)
	g := New(tr, limiter, zap.NewNop())

	if _, err := g.SubmitOrder(context.Background(), spec()); err != nil {
		t.Fatalf("submit#1: %v", err)
	}
	_, err := g.SubmitOrder(context.Background(), spec())
	if !errors.Is(err, domain.ErrRateLimitTimeout) {
		t.Fatalf("err=%v, ждали ErrRateLimitTimeout", err)
	}
}
