// Package gateway — авторизованный шлюз исполнения: постановка и
// отмена заявок с подписью, лимитами и явной обработкой
// неоднозначных исходов.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradecore/internal/domain"
	"tradecore/internal/infra/ratelimit"
)

// Веса эндпоинтов в токенах своего класса.
const (
	weightOrder  = 1
	weightCancel = 1
	weightQuery  = 2
)

// Gateway отслеживает заявки по клиентским id. Гарантии: не больше
// одной попытки отправки на client id одновременно; id не
// переиспользуются; после неоднозначного исхода (Unknown) любое
// действие требует сверки Reconcile.
type Gateway struct {
	ex      domain.Exchange
	limiter *ratelimit.Limiter
	log     *zap.Logger

	mu       sync.Mutex
	orders   map[string]*domain.Order
	inflight map[string]struct{}
}

func New(ex domain.Exchange, limiter *ratelimit.Limiter, log *zap.Logger) *Gateway {
	return &Gateway{
		ex:       ex,
		limiter:  limiter,
		log:      log,
		orders:   map[string]*domain.Order{},
		inflight: map[string]struct{}{},
	}
}

// SubmitOrder выставляет заявку по spec. Исходы:
//   - биржа ответила ack → Acked (+ биржевой id);
//   - биржа отклонила → Rejected, ошибка *RejectError;
//   - транспорт упал без ответа → Unknown: заявка могла встать,
//     слепой повтор запрещён до Reconcile.
//
// Возвращается копия ордера, пригодная для чтения без локов.
func (g *Gateway) SubmitOrder(ctx context.Context, spec domain.OrderSpec) (domain.Order, error) {
	// то же намерение уже висит в Unknown → сначала сверка, иначе
	// рискуем второй живой заявкой
	if amb, found := g.ambiguousIntent(spec); found {
		return amb, &domain.AmbiguousError{ClientID: amb.ClientID, Status: amb.Status}
	}

	o := &domain.Order{
		ClientID:  uuid.NewString(),
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Price:     spec.Price,
		Quantity:  spec.Quantity,
		Status:    domain.StatusNew,
		UpdatedAt: time.Now().UnixMilli(),
	}

	g.mu.Lock()
	g.orders[o.ClientID] = o
	g.inflight[o.ClientID] = struct{}{}
	g.mu.Unlock()
	defer g.clearInflight(o.ClientID)

	if err := g.limiter.Acquire(ctx, ratelimit.ClassOrder, weightOrder); err != nil {
		// до сети не дошли — заявка заведомо не встала
		g.transition(o.ClientID, domain.StatusRejected)
		return g.snapshot(o.ClientID), err
	}

	ack, err := g.ex.PlaceOrder(ctx, o)
	switch {
	case err == nil:
		g.mu.Lock()
		if ack.ExchangeID != "" {
			o.ExchangeID = ack.ExchangeID
		}
		g.mu.Unlock()
		g.transition(o.ClientID, domain.StatusAcked)
		g.log.Info("order acked",
			zap.String("client_id", o.ClientID),
			zap.String("exchange_id", o.ExchangeID))
		return g.snapshot(o.ClientID), nil

	case isReject(err):
		g.transition(o.ClientID, domain.StatusRejected)
		return g.snapshot(o.ClientID), err

	case errors.Is(err, domain.ErrAuth):
		// запрос не был принят — и не будет, пока не починят ключи
		g.transition(o.ClientID, domain.StatusRejected)
		return g.snapshot(o.ClientID), err

	default:
		// ответа не было: возможно, заявка встала. Только Unknown.
		g.transition(o.ClientID, domain.StatusUnknown)
		g.log.Warn("order outcome ambiguous",
			zap.String("client_id", o.ClientID), zap.Error(err))
		return g.snapshot(o.ClientID), &domain.AmbiguousError{
			ClientID: o.ClientID,
			Status:   domain.StatusUnknown,
		}
	}
}

// CancelOrder отменяет заявку. Отмена уже терминальной заявки —
// no-op с её текущим статусом. Для Unknown сначала нужна сверка.
func (g *Gateway) CancelOrder(ctx context.Context, clientID string) (domain.Order, error) {
	g.mu.Lock()
	o, ok := g.orders[clientID]
	if !ok {
		g.mu.Unlock()
		return domain.Order{}, fmt.Errorf("unknown order %q", clientID)
	}
	if o.Status.Terminal() {
		cp := *o
		g.mu.Unlock()
		return cp, nil
	}
	if o.Status == domain.StatusUnknown {
		st := o.Status
		g.mu.Unlock()
		return g.snapshot(clientID), &domain.AmbiguousError{ClientID: clientID, Status: st}
	}
	if _, busy := g.inflight[clientID]; busy {
		g.mu.Unlock()
		return g.snapshot(clientID), fmt.Errorf("order %q has a request in flight", clientID)
	}
	g.inflight[clientID] = struct{}{}
	symbol := o.Symbol
	g.mu.Unlock()
	defer g.clearInflight(clientID)

	if err := g.limiter.Acquire(ctx, ratelimit.ClassCancel, weightCancel); err != nil {
		return g.snapshot(clientID), err
	}

	_, err := g.ex.CancelOrder(ctx, symbol, clientID)
	switch {
	case err == nil:
		g.transition(clientID, domain.StatusCancelled)
		return g.snapshot(clientID), nil
	case isReject(err) || errors.Is(err, domain.ErrAuth):
		return g.snapshot(clientID), err
	default:
		// отмена ушла в сеть без ответа: заявка либо снята, либо жива —
		// статус оставляем, решит сверка
		g.log.Warn("cancel outcome ambiguous",
			zap.String("client_id", clientID), zap.Error(err))
		return g.snapshot(clientID), &domain.AmbiguousError{ClientID: clientID, Status: g.status(clientID)}
	}
}

// Reconcile разрешает неоднозначность по clientID запросом к бирже.
// Заявка, которую биржа не видела, считается невставшей → Rejected.
func (g *Gateway) Reconcile(ctx context.Context, clientID string) (domain.Order, error) {
	g.mu.Lock()
	o, ok := g.orders[clientID]
	if !ok {
		g.mu.Unlock()
		return domain.Order{}, fmt.Errorf("unknown order %q", clientID)
	}
	symbol := o.Symbol
	g.mu.Unlock()

	if err := g.limiter.Acquire(ctx, ratelimit.ClassQuery, weightQuery); err != nil {
		return g.snapshot(clientID), err
	}

	st, err := g.ex.QueryOrder(ctx, symbol, clientID)
	switch {
	case err == nil:
		g.mu.Lock()
		if st.ExchangeID != "" {
			o.ExchangeID = st.ExchangeID
		}
		o.Filled = st.Filled
		g.mu.Unlock()
		g.transition(clientID, st.Status)
		g.log.Info("order reconciled",
			zap.String("client_id", clientID),
			zap.String("status", st.Status.String()))
		return g.snapshot(clientID), nil
	case isNotFound(err):
		// биржа заявку не видела — отправка не состоялась
		g.transition(clientID, domain.StatusRejected)
		return g.snapshot(clientID), nil
	default:
		return g.snapshot(clientID), err
	}
}

// ApplyReport применяет отчёт об исполнении из потока. Отчёты по
// чужим id игнорируются; переходы вне частичного порядка — тоже
// (отчёт мог обогнать ack или прийти повторно).
func (g *Gateway) ApplyReport(rep domain.ExecReport) {
	g.mu.Lock()
	o, ok := g.orders[rep.ClientID]
	if !ok {
		g.mu.Unlock()
		return
	}
	if !o.Status.CanTransition(rep.Status) {
		g.mu.Unlock()
		return
	}
	o.Status = rep.Status
	o.Filled = o.Filled.Add(rep.ConsumedQty)
	o.UpdatedAt = rep.Timestamp
	g.mu.Unlock()

	g.log.Info("execution report",
		zap.String("client_id", rep.ClientID),
		zap.String("status", rep.Status.String()))
}

// Order — копия отслеживаемой заявки.
func (g *Gateway) Order(clientID string) (domain.Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[clientID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders — копии всех отслеживаемых заявок.
func (g *Gateway) Orders() []domain.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Order, 0, len(g.orders))
	for _, o := range g.orders {
		out = append(out, *o)
	}
	return out
}

// Ack снимает терминальную заявку с отслеживания. Нетерминальную
// снимать нельзя.
func (g *Gateway) Ack(clientID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[clientID]
	if !ok {
		return fmt.Errorf("unknown order %q", clientID)
	}
	if !o.Status.Terminal() {
		return fmt.Errorf("order %q is not terminal (%s)", clientID, o.Status)
	}
	delete(g.orders, clientID)
	return nil
}

// --- внутреннее ---

// transition двигает статус по частичному порядку; недопустимый
// переход не применяется и логируется.
func (g *Gateway) transition(clientID string, to domain.OrderStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[clientID]
	if !ok {
		return
	}
	if o.Status == to {
		return
	}
	if !o.Status.CanTransition(to) {
		g.log.Warn("illegal status transition dropped",
			zap.String("client_id", clientID),
			zap.String("from", o.Status.String()),
			zap.String("to", to.String()))
		return
	}
	o.Status = to
	o.UpdatedAt = time.Now().UnixMilli()
}

func (g *Gateway) snapshot(clientID string) domain.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[clientID]; ok {
		return *o
	}
	return domain.Order{}
}

func (g *Gateway) status(clientID string) domain.OrderStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[clientID]; ok {
		return o.Status
	}
	return domain.StatusUnknown
}

// ambiguousIntent ищет заявку того же намерения в состоянии Unknown.
func (g *Gateway) ambiguousIntent(spec domain.OrderSpec) (domain.Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, o := range g.orders {
		if o.Status == domain.StatusUnknown &&
			o.Symbol == spec.Symbol && o.Side == spec.Side &&
			o.Price.Equal(spec.Price) && o.Quantity.Equal(spec.Quantity) {
			return *o, true
		}
	}
	return domain.Order{}, false
}

func (g *Gateway) clearInflight(clientID string) {
	g.mu.Lock()
	delete(g.inflight, clientID)
	g.mu.Unlock()
}

func isReject(err error) bool {
	var re *domain.RejectError
	return errors.As(err, &re)
}

func isNotFound(err error) bool {
	var re *domain.RejectError
	if errors.As(err, &re) {
		return re.Code == codeOrderNotFound
	}
	return false
}

// Код "заявка не найдена" в generic-таксономии адаптеров.
const codeOrderNotFound = -2013
