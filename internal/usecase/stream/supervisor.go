// Package stream — жизненный цикл стримингового соединения: подписка,
// переподключение с бэкоффом, ресинк стакана при дырах в секвенсах.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"tradecore/internal/domain"
	"tradecore/internal/infra/ratelimit"
	"tradecore/internal/usecase/orderbook"
)

// Состояние соединения.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Degraded
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Degraded:
		return "degraded"
	case Closing:
		return "closing"
	}
	return "invalid"
}

const (
	defaultDiffBuffer = 512
	maxResyncAttempts = 3
	snapshotAttempts  = 3
	snapshotWeight    = 1
)

// Supervisor гонит кадры фида через нормализацию адаптера в движок
// стакана и владеет всем восстановлением: дыра → Degraded → свежий
// снапшот → проигрывание буфера → Subscribed; обрыв → Disconnected →
// реконнект с экспоненциальным бэкоффом.
type Supervisor struct {
	ex      domain.Exchange
	engine  *orderbook.Engine
	limiter *ratelimit.Limiter
	log     *zap.Logger

	symbol string
	depth  int
	bufCap int
	expire time.Duration // нет кадров дольше — считаем соединение мёртвым
	retry  *backoff.Backoff

	state     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func NewSupervisor(ex domain.Exchange, engine *orderbook.Engine, limiter *ratelimit.Limiter, p domain.Params, log *zap.Logger) *Supervisor {
	bufCap := p.DiffBuffer
	if bufCap <= 0 {
		bufCap = defaultDiffBuffer
	}
	return &Supervisor{
		ex:      ex,
		engine:  engine,
		limiter: limiter,
		log:     log,
		symbol:  p.Symbol,
		depth:   p.Depth,
		bufCap:  bufCap,
		expire:  30 * time.Second,
		retry: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    30 * time.Second,
			Jitter: true,
		},
		closed: make(chan struct{}),
	}
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

// Close — терминальная остановка: транспорт отпускается, реконнекты
// прекращаются. Идемпотентен.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.setState(Closing)
		close(s.closed)
	})
}

// Run крутит сессии до Close или отмены ctx. Транзиентные обрывы
// поглощаются реконнектом; фатальное (ErrAuth) возвращается наружу.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.closed:
			return nil
		default:
		}

		s.setState(Connecting)
		err := s.session(ctx)
		switch {
		case err == nil || errors.Is(err, domain.ErrClosed) || errors.Is(err, context.Canceled):
			s.Close()
			return nil
		case errors.Is(err, domain.ErrAuth):
			s.Close()
			return err
		}

		s.setState(Disconnected)
		delay := s.retry.Duration()
		s.log.Warn("stream session ended, reconnecting",
			zap.String("symbol", s.symbol),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.closed:
			return nil
		case <-time.After(delay):
		}
	}
}

// session: одно живое соединение от подписки до обрыва.
func (s *Supervisor) session(ctx context.Context) error {
	st, err := s.ex.OpenStream(ctx, s.symbol)
	if err != nil {
		return &domain.NetworkError{Op: "open stream", Err: err}
	}
	defer st.Close()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go func() {
		for {
			raw, rerr := st.ReadRaw()
			if rerr != nil {
				readErr <- rerr
				return
			}
			select {
			case frames <- raw:
			case <-done:
				return
			}
		}
	}()

	// Стрим уже открыт и копит кадры, так что снапшот гарантированно
	// не старше начала потока. Первичная синхронизация — тот же путь,
	// что и ресинк после дыры.
	if err := s.resync(ctx, frames, nil); err != nil {
		return err
	}
	s.setState(Subscribed)
	s.retry.Reset()
	s.log.Info("subscribed", zap.String("symbol", s.symbol),
		zap.Int64("last_update_id", s.engine.LastUpdateID()))

	expire := time.NewTimer(s.expire)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return domain.ErrClosed
		case rerr := <-readErr:
			return &domain.NetworkError{Op: "read frame", Err: rerr}
		case <-expire.C:
			return &domain.NetworkError{Op: "stream expired", Err: errors.New("no frames within deadline")}
		case raw := <-frames:
			if !expire.Stop() {
				<-expire.C
			}
			expire.Reset(s.expire)

			ev, nerr := s.ex.Normalize(raw)
			if nerr != nil {
				s.log.Debug("frame skipped", zap.Error(nerr))
				continue
			}
			if ev == nil {
				continue
			}
			res, aerr := s.engine.ApplyDiff(ev)
			if res != orderbook.Gapped {
				continue
			}
			s.setState(Degraded)
			s.log.Warn("sequence gap, resyncing",
				zap.String("symbol", s.symbol), zap.Error(aerr))
			if err := s.resync(ctx, frames, ev); err != nil {
				return err
			}
			s.setState(Subscribed)
		}
	}
}

// resync: свежий снапшот + проигрывание накопленных диффов.
// Пока ждём снапшот, входящие диффы складываются в ограниченный буфер;
// переполнение выталкивает самые старые — потерянное проявится новой
// дырой и ещё одним ресинком. Ограниченная память важнее бесконечной
// истории повторов.
func (s *Supervisor) resync(ctx context.Context, frames <-chan []byte, pending *domain.DiffEvent) error {
	buf := newDiffBuffer(s.bufCap)
	if pending != nil {
		buf.push(pending)
	}

	for attempt := 1; ; attempt++ {
		snap, err := s.fetchSnapshot(ctx, frames, buf)
		if err != nil {
			return err
		}
		s.engine.Init(snap)

		gapped := false
		for _, ev := range buf.drain() {
			// всё, что целиком позади снапшота, отброшено самим ApplyDiff
			res, _ := s.engine.ApplyDiff(ev)
			if res == orderbook.Gapped {
				// дыра внутри буфера (например, после вытеснения) —
				// начинаем с этого диффа заново
				buf.push(ev)
				gapped = true
				break
			}
		}
		if !gapped {
			if d := buf.droppedTotal(); d > 0 {
				s.log.Warn("diff buffer overflowed during resync", zap.Int("dropped", d))
			}
			return nil
		}
		if attempt >= maxResyncAttempts {
			return &domain.NetworkError{
				Op:  "resync",
				Err: errors.New("replay kept gapping after snapshot refetches"),
			}
		}
		s.log.Warn("replay gapped, refetching snapshot", zap.Int("attempt", attempt))
	}
}

type snapResult struct {
	snap *domain.Snapshot
	err  error
}

// fetchSnapshot тянет снапшот в фоне, параллельно буферизуя кадры,
// чтобы не потерять диффы на время REST-вызова. Каждый REST-вызов
// проходит через лимитер: шторм ресинков не должен долбить биржу.
func (s *Supervisor) fetchSnapshot(ctx context.Context, frames <-chan []byte, buf *diffBuffer) (*domain.Snapshot, error) {
	res := make(chan snapResult, 1)
	go func() {
		var snap *domain.Snapshot
		var err error
		for i := 0; i < snapshotAttempts; i++ {
			if err = s.limiter.Acquire(ctx, ratelimit.ClassSnapshot, snapshotWeight); err != nil {
				if ctx.Err() != nil {
					break
				}
				// токенов не дождались — пауза и ещё попытка
				time.Sleep(200 * time.Millisecond)
				continue
			}
			snap, err = s.ex.FetchSnapshot(ctx, s.symbol, s.depth)
			if err == nil || ctx.Err() != nil || errors.Is(err, domain.ErrAuth) {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		res <- snapResult{snap: snap, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, domain.ErrClosed
		case raw := <-frames:
			if ev, err := s.ex.Normalize(raw); err == nil && ev != nil {
				buf.push(ev)
			}
		case r := <-res:
			if errors.Is(r.err, domain.ErrAuth) {
				return nil, r.err
			}
			if r.err != nil {
				return nil, &domain.NetworkError{Op: "fetch snapshot", Err: r.err}
			}
			return r.snap, nil
		}
	}
}
