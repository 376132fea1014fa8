// Package binanceadapter — реализация контракта domain.Exchange для
// Binance: REST-снапшоты и подписанные ордера, depth-стрим по вебсокету.
package binanceadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gbinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/domain"
	"tradecore/internal/infra/sign"
	"tradecore/internal/shared/retry"
)

const (
	defaultRestURL   = "https://api.binance.com"
	defaultStreamURL = "wss://stream.binance.com:9443/ws"

	orderPath = "/api/v3/order"
)

type BinanceExchange struct {
	client  *gbinance.Client
	http    *http.Client
	signer  *sign.Signer
	restURL string
	wsURL   string
	log     *zap.Logger
}

func New(p domain.Params, signer *sign.Signer, log *zap.Logger) *BinanceExchange {
	restURL := p.RestURL
	if restURL == "" {
		restURL = defaultRestURL
	}
	wsURL := p.StreamURL
	if wsURL == "" {
		wsURL = defaultStreamURL
	}

	client := gbinance.NewClient("", "") // публичные вызовы, ключи не нужны
	client.BaseURL = restURL
	// Чуть мягче таймаут: не висим долго, но и не рвём слишком быстро
	client.HTTPClient = &http.Client{Timeout: 7 * time.Second}

	return &BinanceExchange{
		client:  client,
		http:    &http.Client{Timeout: 7 * time.Second},
		signer:  signer,
		restURL: restURL,
		wsURL:   wsURL,
		log:     log,
	}
}

func (b *BinanceExchange) Name() string { return "Binance" }

// FetchSnapshot — авторитетный снапшот стакана через REST.
func (b *BinanceExchange) FetchSnapshot(ctx context.Context, symbol string, limit int) (*domain.Snapshot, error) {
	// Поддерживаемые лимиты глубины Binance
	allowed := []int{5, 10, 20, 50, 100, 500, 1000}
	chosen := allowed[len(allowed)-1]
	for _, v := range allowed {
		if limit <= v {
			chosen = v
			break
		}
	}

	var depth *gbinance.DepthResponse
	err := retry.WithRetry(ctx, 2, 500*time.Millisecond, func() error {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var err error
		depth, err = b.client.NewDepthService().Symbol(symbol).Limit(chosen).Do(rctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("binance: стакан %s (limit=%d): %w", symbol, chosen, err)
	}

	snap := &domain.Snapshot{
		Symbol:       symbol,
		LastUpdateID: depth.LastUpdateID,
	}
	for _, bd := range depth.Bids {
		lv, err := parseLevel(bd.Price, bd.Quantity)
		if err != nil {
			return nil, fmt.Errorf("binance: bid %s: %w", bd.Price, err)
		}
		snap.Bids = append(snap.Bids, lv)
	}
	for _, a := range depth.Asks {
		lv, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return nil, fmt.Errorf("binance: ask %s: %w", a.Price, err)
		}
		snap.Asks = append(snap.Asks, lv)
	}
	return snap, nil
}

// --- исполнение ---

// PlaceOrder отправляет лимитную заявку с клиентским id. Ответ биржи
// разбирается в generic-таксономию: ack / reject / auth / network.
func (b *BinanceExchange) PlaceOrder(ctx context.Context, o *domain.Order) (*domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", o.Symbol)
	params.Set("side", o.Side.String())
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", o.Quantity.String())
	params.Set("price", o.Price.String())
	params.Set("newClientOrderId", o.ClientID)

	var ack struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		TransactTime  int64  `json:"transactTime"`
	}
	if err := b.signedCall(ctx, http.MethodPost, orderPath, params, &ack); err != nil {
		return nil, err
	}
	return &domain.OrderAck{
		ClientID:   o.ClientID,
		ExchangeID: strconv.FormatInt(ack.OrderID, 10),
		Timestamp:  ack.TransactTime,
	}, nil
}

// CancelOrder снимает заявку по её клиентскому id.
func (b *BinanceExchange) CancelOrder(ctx context.Context, symbol, clientID string) (*domain.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientID)

	var ack struct {
		OrderID int64 `json:"orderId"`
	}
	if err := b.signedCall(ctx, http.MethodDelete, orderPath, params, &ack); err != nil {
		return nil, err
	}
	return &domain.OrderAck{
		ClientID:   clientID,
		ExchangeID: strconv.FormatInt(ack.OrderID, 10),
	}, nil
}

// QueryOrder — сверка: что биржа знает о заявке. GET идемпотентен,
// поэтому здесь допустимы повторы; фатальные исходы ретрай обрывают.
func (b *BinanceExchange) QueryOrder(ctx context.Context, symbol, clientID string) (*domain.OrderState, error) {
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
	}
	err := retry.WithRetry(ctx, 3, 300*time.Millisecond, func() error {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("origClientOrderId", clientID)
		cerr := b.signedCall(ctx, http.MethodGet, orderPath, params, &resp)
		if cerr != nil && !domain.IsNetwork(cerr) {
			return retry.Permanent(cerr)
		}
		return cerr
	})
	if err != nil {
		return nil, err
	}

	filled := decimal.Zero
	if resp.ExecutedQty != "" {
		if f, perr := decimal.NewFromString(resp.ExecutedQty); perr == nil {
			filled = f
		}
	}
	return &domain.OrderState{
		ClientID:   clientID,
		ExchangeID: strconv.FormatInt(resp.OrderID, 10),
		Status:     mapStatus(resp.Status),
		Filled:     filled,
	}, nil
}

// signedCall подписывает параметры и выполняет запрос; out — целевая
// структура успешного ответа.
func (b *BinanceExchange) signedCall(ctx context.Context, method, path string, params url.Values, out any) error {
	signed := b.signer.BuildSignedRequest(method, path, params, time.Now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, method, b.restURL+path+"?"+signed.Query, nil)
	if err != nil {
		return fmt.Errorf("binance: build %s %s: %w", method, path, err)
	}
	req.Header.Set("X-MBX-APIKEY", signed.APIKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyAPIError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s: %w", path, err)
	}
	return nil
}

// classifyAPIError переводит код ошибки Binance в generic-таксономию.
func classifyAPIError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("binance: http %d: %w", status, domain.ErrAuth)
	case apiErr.Code == -1021 || apiErr.Code == -1022 || apiErr.Code == -2014 || apiErr.Code == -2015:
		// рассинхрон часов либо плохие ключи/подпись
		return fmt.Errorf("binance: %s: %w", apiErr.Msg, domain.ErrAuth)
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		// 429/418 — биржа душит; транзиентно
		return &domain.NetworkError{Op: "rate limited by exchange", Err: fmt.Errorf("http %d", status)}
	case status >= 500:
		return &domain.NetworkError{Op: "exchange unavailable", Err: fmt.Errorf("http %d", status)}
	default:
		return &domain.RejectError{Code: apiErr.Code, Reason: apiErr.Msg}
	}
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.StatusAcked
	case "PARTIALLY_FILLED":
		return domain.StatusPartiallyFilled
	case "FILLED":
		return domain.StatusFilled
	case "CANCELED", "PENDING_CANCEL", "EXPIRED":
		// исполненный к моменту отмены объём сохранён в Filled
		return domain.StatusCancelled
	case "REJECTED":
		return domain.StatusRejected
	}
	return domain.StatusUnknown
}

func parseLevel(price, qty string) (domain.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	return domain.PriceLevel{Price: p, Quantity: q}, nil
}

// symbolStream — имя стрима инкрементальной глубины.
func symbolStream(symbol string) string {
	return strings.ToLower(symbol) + "@depth"
}
