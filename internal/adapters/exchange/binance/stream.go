package binanceadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradecore/internal/domain"
)

const (
	handshakeTimeout = 15 * time.Second
	pingInterval     = 15 * time.Second
	writeTimeout     = 5 * time.Second
)

// wsStream — одно вебсокет-соединение depth-стрима.
type wsStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// OpenStream подключается к инкрементальному depth-стриму символа.
// Подписка зашита в URL, отдельного subscribe-кадра не нужно.
func (b *BinanceExchange) OpenStream(ctx context.Context, symbol string) (domain.Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	addr := b.wsURL + "/" + symbolStream(symbol)

	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: dial %s: %w", addr, err)
	}

	b.log.Debug("depth stream connected", zap.String("addr", addr))

	st := &wsStream{conn: conn, done: make(chan struct{})}
	go st.pingLoop()
	return st, nil
}

func (s *wsStream) ReadRaw() ([]byte, error) {
	_, msg, err := s.conn.ReadMessage()
	return msg, err
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// depthUpdate — wire-формат инкрементального обновления Binance.
type depthUpdate struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	First     int64      `json:"U"`
	Final     int64      `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// Normalize переводит сырой кадр в generic-дифф. Кадры чужих типов
// событий молча пропускаются (nil, nil).
func (b *BinanceExchange) Normalize(raw []byte) (*domain.DiffEvent, error) {
	var upd depthUpdate
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, fmt.Errorf("binance: малформленный кадр: %w", err)
	}
	if upd.Event != "depthUpdate" {
		return nil, nil
	}

	ev := &domain.DiffEvent{
		Symbol:        upd.Symbol,
		FirstUpdateID: upd.First,
		FinalUpdateID: upd.Final,
	}
	for _, l := range upd.Bids {
		lv, err := parseWireLevel(l)
		if err != nil {
			return nil, err
		}
		ev.Bids = append(ev.Bids, lv)
	}
	for _, l := range upd.Asks {
		lv, err := parseWireLevel(l)
		if err != nil {
			return nil, err
		}
		ev.Asks = append(ev.Asks, lv)
	}
	return ev, nil
}

func parseWireLevel(l []string) (domain.PriceLevel, error) {
	if len(l) < 2 {
		return domain.PriceLevel{}, fmt.Errorf("binance: уровень из %d полей", len(l))
	}
	return parseLevel(l[0], l[1])
}
