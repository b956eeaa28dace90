package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const DefaultStreamURL = "wss://stream.binance.com:9443"

// priceTTL bounds how long a cached stream price is considered current.
const priceTTL = 30 * time.Second

// Stream maintains a combined kline websocket subscription and caches the
// latest close price per symbol.
type Stream struct {
	streamURL string
	symbols   []string
	interval  string
	log       zerolog.Logger

	mu     sync.RWMutex
	prices map[string]cachedPrice
}

type cachedPrice struct {
	price float64
	at    time.Time
}

func NewStream(streamURL string, symbols []string, interval string, log zerolog.Logger) *Stream {
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	if interval == "" {
		interval = "1m"
	}
	return &Stream{
		streamURL: streamURL,
		symbols:   symbols,
		interval:  interval,
		log:       log.With().Str("component", "binance-stream").Logger(),
		prices:    make(map[string]cachedPrice),
	}
}

// Run connects and consumes kline updates until the context is cancelled,
// reconnecting with a fixed backoff on failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), s.interval)
	}
	endpoint := fmt.Sprintf("%s/stream?streams=%s", s.streamURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error dialing stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.log.Info().Int("symbols", len(s.symbols)).Msg("kline stream connected")

	for {
		var frame struct {
			Data struct {
				Symbol string `json:"s"`
				Kline  struct {
					Close string `json:"c"`
				} `json:"k"`
			} `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		price := parseFloat(frame.Data.Kline.Close)
		if price <= 0 {
			continue
		}
		s.mu.Lock()
		s.prices[frame.Data.Symbol] = cachedPrice{price: price, at: time.Now()}
		s.mu.Unlock()
	}
}

// LastPrice returns the cached stream price, or false when absent or stale.
func (s *Stream) LastPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.prices[symbol]
	if !ok || time.Since(cp.at) > priceTTL {
		return 0, false
	}
	return cp.price, true
}
