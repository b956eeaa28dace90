// Package exchange wraps a user exchange schema in the engine-side candle
// client: backward/forward fetches bounded by the ambient execution
// timestamp, retry policy, anomaly detection, and VWAP.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/model"
	"signal-engine/internal/runctx"
	"signal-engine/internal/schema"
)

var (
	// ErrCandleAnomaly marks a fetched candle that deviates too far from the
	// rolling median close.
	ErrCandleAnomaly = errors.New("candle anomaly detected")

	// ErrCandleFetchFailed wraps schema fetch failures after retries.
	ErrCandleFetchFailed = errors.New("candle fetch failed")

	// ErrFutureDataInLive guards GetNextCandles against live mode. This is a
	// programming error, never retried.
	ErrFutureDataInLive = errors.New("future candles requested in live mode")
)

// Client is the engine-side exchange client for one named exchange schema.
type Client struct {
	name   string
	schema schema.ExchangeSchema
	cfg    *config.Config
	log    zerolog.Logger
}

func NewClient(s schema.ExchangeSchema, cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		name:   s.Name,
		schema: s,
		cfg:    cfg,
		log:    log.With().Str("component", "exchange").Str("exchange", s.Name).Logger(),
	}
}

// Name returns the exchange schema name.
func (c *Client) Name() string { return c.name }

// GetCandles returns up to limit candles with timestamps <= the ambient
// execution timestamp, ascending. The upper bound is mandatory in backtest
// mode (look-ahead prevention) and enforced in both modes for symmetry.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return nil, err
	}
	step, err := model.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	since := ec.When - int64(limit)*step.Milliseconds()

	candles, err := c.fetchWithRetry(ctx, symbol, interval, since, limit, func(cs []model.Candle) []model.Candle {
		out := cs[:0]
		for _, cd := range cs {
			if cd.Timestamp <= ec.When {
				out = append(out, cd)
			}
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// GetNextCandles returns candles strictly after the ambient timestamp.
// Allowed only in backtest mode; the scheduled-candle simulator is its sole
// legitimate consumer.
func (c *Client) GetNextCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	ec, err := runctx.ExecutionFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !ec.Backtest {
		return nil, fmt.Errorf("%w: %s %s", ErrFutureDataInLive, symbol, interval)
	}
	step, err := model.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	since := ec.When + step.Milliseconds()

	candles, err := c.fetchWithRetry(ctx, symbol, interval, since, limit, func(cs []model.Candle) []model.Candle {
		out := cs[:0]
		for _, cd := range cs {
			if cd.Timestamp > ec.When {
				out = append(out, cd)
			}
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	if len(candles) > limit {
		candles = candles[:limit]
	}
	return candles, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, symbol, interval string, since int64, limit int,
	bound func([]model.Candle) []model.Candle) ([]model.Candle, error) {

	retries := c.cfg.Engine.CandlesRetryCount
	delay := time.Duration(c.cfg.Engine.CandlesRetryDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		candles, err := c.schema.GetCandles(ctx, symbol, interval, since, limit)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("candle fetch failed")
			continue
		}

		candles = bound(candles)
		sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })

		if err := c.detectAnomaly(candles); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("anomalous candle")
			continue
		}
		return candles, nil
	}
	return nil, fmt.Errorf("%w: %s %s after %d retries: %v", ErrCandleFetchFailed, symbol, interval, retries, lastErr)
}

// detectAnomaly flags a closing price that deviates from the median of the
// trailing lookback window by more than the configured fraction.
func (c *Client) detectAnomaly(candles []model.Candle) error {
	lookback := c.cfg.Engine.MedianCandlesLookback
	threshold := c.cfg.Engine.PriceAnomalyThreshold
	if len(candles) < 3 || threshold <= 0 {
		return nil
	}

	for i := range candles {
		lo := i - lookback
		if lo < 0 {
			lo = 0
		}
		if i-lo < 2 {
			continue
		}
		med := medianClose(candles[lo:i])
		if med == 0 {
			continue
		}
		dev := candles[i].Close - med
		if dev < 0 {
			dev = -dev
		}
		if dev/med > threshold {
			return fmt.Errorf("%w: close %.8f vs median %.8f at %d",
				ErrCandleAnomaly, candles[i].Close, med, candles[i].Timestamp)
		}
	}
	return nil
}

func medianClose(candles []model.Candle) float64 {
	closes := make([]float64, len(candles))
	for i, cd := range candles {
		closes[i] = cd.Close
	}
	sort.Float64s(closes)
	n := len(closes)
	if n%2 == 1 {
		return closes[n/2]
	}
	return (closes[n/2-1] + closes[n/2]) / 2
}

// GetAveragePrice resolves the current price: the schema override when
// present, otherwise VWAP over the trailing 1m candles using typical price.
func (c *Client) GetAveragePrice(ctx context.Context, symbol string) (float64, error) {
	if c.schema.GetAveragePrice != nil {
		return c.schema.GetAveragePrice(ctx, symbol)
	}

	candles, err := c.GetCandles(ctx, symbol, "1m", c.cfg.Engine.AvgPriceCandlesCount)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("%w: no candles for average price of %s", ErrCandleFetchFailed, symbol)
	}

	var pv, vol float64
	for _, cd := range candles {
		pv += cd.TypicalPrice() * cd.Volume
		vol += cd.Volume
	}
	if vol == 0 {
		// Zero-volume window: fall back to the plain mean of typical prices.
		var sum float64
		for _, cd := range candles {
			sum += cd.TypicalPrice()
		}
		return sum / float64(len(candles)), nil
	}
	return pv / vol, nil
}
