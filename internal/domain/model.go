package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Базовые доменные сущности

// Сторона заявки / уровня стакана.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// Уровень стакана: цена → объём.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Snapshot — полное авторитетное состояние стакана на момент LastUpdateID.
type Snapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DiffEvent — инкрементальное обновление стакана, покрывает
// непрерывный диапазон секвенсов [FirstUpdateID, FinalUpdateID].
// Нулевой объём уровня означает его удаление.
type DiffEvent struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// Статус ордера. Переходы строго монотонны вдоль фиксированного
// частичного порядка, см. (OrderStatus).CanTransition.
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusAcked
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
	// StatusUnknown — отправили запрос, ответа не дождались.
	// Достижим только из StatusNew; до сверки с биржей повторная
	// отправка запрещена.
	StatusUnknown
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusAcked:
		return "ACKED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusUnknown:
		return "UNKNOWN"
	}
	return "INVALID"
}

// Terminal — ордер больше не изменится.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// CanTransition проверяет допустимость перехода s → to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case StatusNew:
		return to == StatusAcked || to == StatusRejected ||
			to == StatusCancelled || to == StatusUnknown
	case StatusAcked:
		return to == StatusPartiallyFilled || to == StatusFilled || to == StatusCancelled
	case StatusPartiallyFilled:
		// очередная частичная сделка — тоже PartiallyFilled
		return to == StatusPartiallyFilled || to == StatusFilled || to == StatusCancelled
	case StatusUnknown:
		// разрешение неоднозначности по результату сверки
		return to != StatusNew && to != StatusUnknown
	}
	return false
}

// OrderSpec — намерение выставить заявку.
type OrderSpec struct {
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Order — отслеживаемая заявка. ClientID генерируется локально и
// никогда не переиспользуется; ExchangeID присваивает биржа.
type Order struct {
	ClientID   string
	ExchangeID string
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Filled     decimal.Decimal
	Status     OrderStatus
	UpdatedAt  int64 // unix ms
}

// OrderAck — подтверждение приёма заявки/отмены биржей.
type OrderAck struct {
	ClientID   string
	ExchangeID string
	Timestamp  int64
}

// OrderState — состояние заявки по данным биржи (результат сверки).
type OrderState struct {
	ClientID   string
	ExchangeID string
	Status     OrderStatus
	Filled     decimal.Decimal
}

// ExecReport — отчёт об исполнении из потока биржи.
type ExecReport struct {
	ClientID    string
	ConsumedQty decimal.Decimal
	Price       decimal.Decimal
	Status      OrderStatus
	Timestamp   int64
}

// Параметры ядра; фронт читает их из params.json и передаёт готовыми,
// само ядро файлов не читает.
type Params struct {
	RestURL       string                `json:"rest_url"`
	StreamURL     string                `json:"stream_url"`
	Symbol        string                `json:"symbol"`
	Depth         int                   `json:"depth"`
	DiffBuffer    int                   `json:"diff_buffer"`     // ёмкость буфера диффов на ресинк
	WaitTimeoutMS int                   `json:"wait_timeout_ms"` // сколько ждать токенов rate limiter'а
	RateBudgets   map[string]RateBudget `json:"rate_budgets"`    // класс веса → бюджет
}

// RateBudget — бюджет одного класса веса: ёмкость ведра и скорость пополнения.
type RateBudget struct {
	Capacity     int     `json:"capacity"`
	RefillPerSec float64 `json:"refill_per_sec"`
}

// Контракт адаптера биржи: перевод generic-операций ядра в конкретные
// wire-форматы. Одна реализация на биржу.
type Exchange interface {
	Name() string

	// Маркет-дата
	FetchSnapshot(ctx context.Context, symbol string, depth int) (*Snapshot, error)
	OpenStream(ctx context.Context, symbol string) (Stream, error)
	Normalize(raw []byte) (*DiffEvent, error)

	// Исполнение
	PlaceOrder(ctx context.Context, o *Order) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientID string) (*OrderAck, error)
	QueryOrder(ctx context.Context, symbol, clientID string) (*OrderState, error)
}

// Stream — сырые кадры маркет-даты. ReadRaw блокируется до следующего
// кадра; после Close возвращает ошибку.
type Stream interface {
	ReadRaw() ([]byte, error)
	Close() error
}
