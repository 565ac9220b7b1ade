package service

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trade_core/internal/models"
)

// WSFeed keeps the latest quote per symbol from a websocket stream. Frames
// are {"symbol":"NIFTY","price":22501.5,"ts":1767325800000}.
type WSFeed struct {
	url       string
	symbols   []string
	pingEvery time.Duration
	dialer    *websocket.Dialer
	log       *zap.Logger

	mu     sync.RWMutex
	latest map[string]models.Quote
}

type wsFrame struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"`
}

func NewWSFeed(url string, symbols []string, pingEvery time.Duration, log *zap.Logger) *WSFeed {
	if pingEvery <= 0 {
		pingEvery = 20 * time.Second
	}
	return &WSFeed{
		url:       url,
		symbols:   symbols,
		pingEvery: pingEvery,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:       log.Named("ws_feed"),
		latest:    make(map[string]models.Quote),
	}
}

func (f *WSFeed) PriceAtOrAfter(_ context.Context, symbol string, at time.Time) (models.Quote, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.latest[symbol]
	if !ok || q.At.Before(at) {
		return models.Quote{}, false, nil
	}
	return q, true, nil
}

func (f *WSFeed) Latest(_ context.Context, symbol string) (models.Quote, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.latest[symbol]
	return q, ok, nil
}

func (f *WSFeed) store(fr wsFrame) {
	if fr.Symbol == "" || fr.Price <= 0 {
		return
	}
	q := models.Quote{Symbol: fr.Symbol, Price: fr.Price, At: time.UnixMilli(fr.TS).UTC()}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.latest[q.Symbol]; ok && prev.At.After(q.At) {
		return
	}
	f.latest[q.Symbol] = q
}

// Run connects, subscribes and reads until ctx is done, reconnecting after a
// second on any error.
func (f *WSFeed) Run(ctx context.Context) {
	for {
		if err := f.session(ctx); err != nil {
			f.log.Warn("stream interrupted", zap.String("url", f.url), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (f *WSFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		raw, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, raw)
	}
	if err := write(map[string]any{"op": "subscribe", "args": f.symbols}); err != nil {
		return err
	}
	f.log.Info("stream connected", zap.String("url", f.url), zap.Int("symbols", len(f.symbols)))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(f.pingEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-t.C:
				_ = write(map[string]string{"op": "ping"})
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var fr wsFrame
		if err := sonic.Unmarshal(msg, &fr); err != nil {
			continue
		}
		f.store(fr)
	}
}
