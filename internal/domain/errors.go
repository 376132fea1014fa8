package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок ядра (см. также (OrderStatus).Terminal)

var (
	// ErrRateLimitTimeout — не дождались токенов; можно повторить позже.
	ErrRateLimitTimeout = errors.New("rate limit wait timed out")

	// ErrAuth — плохие ключи или рассинхрон часов. Фатально, без ретраев.
	ErrAuth = errors.New("authentication failed")

	// ErrClosed — компонент остановлен явно.
	ErrClosed = errors.New("closed")
)

// NetworkError — транзиентная сетевая ошибка; ретраится ограниченно.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// GapError — разрыв секвенсов между стаканом и входящим диффом.
// Восстанавливается ресинком, наружу не выходит, пока ресинк не
// провалится многократно.
type GapError struct {
	Expected int64 // lastUpdateId + 1
	First    int64
	Final    int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap: expected %d, got diff [%d..%d]", e.Expected, e.First, e.Final)
}

// RejectError — биржа отклонила заявку; терминально для ордера.
type RejectError struct {
	Code   int
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order rejected (code %d): %s", e.Code, e.Reason)
}

// AmbiguousError — по ордеру нет достоверного исхода; перед любым
// следующим действием нужна сверка с биржей.
type AmbiguousError struct {
	ClientID string
	Status   OrderStatus
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("order %s in ambiguous state %s, reconcile first", e.ClientID, e.Status)
}

// IsNetwork — удобный предикат для ретрай-политики.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
