// Demo backtest: a synthetic sine-wave exchange, two moving-average-cross
// strategies, and a walker ranking them by Sharpe ratio.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"

	"signal-engine/config"
	"signal-engine/engine"
	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/persistence"
	"signal-engine/internal/schema"
)

const symbol = "DEMOUSDT"

// syntheticPrice is a deterministic oscillation around 42000.
func syntheticPrice(ts int64) float64 {
	minutes := float64(ts / model.MinuteMs)
	return 42000 + 800*math.Sin(minutes/180) + 150*math.Sin(minutes/23)
}

func syntheticCandles(since int64, step int64, limit int) []model.Candle {
	candles := make([]model.Candle, limit)
	for i := range candles {
		ts := since + int64(i)*step
		open := syntheticPrice(ts)
		close := syntheticPrice(ts + step)
		candles[i] = model.Candle{
			Timestamp: ts,
			Open:      open,
			High:      math.Max(open, close) * 1.0004,
			Low:       math.Min(open, close) * 0.9996,
			Close:     close,
			Volume:    100,
		}
	}
	return candles
}

// maCross builds a moving-average-cross strategy over the synthetic feed.
func maCross(name string, fast, slow int) schema.StrategySchema {
	return schema.StrategySchema{
		Name:     name,
		Interval: "1h",
		RiskName: "demo-risk",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			sma := func(n int) float64 {
				var sum float64
				for i := 1; i <= n; i++ {
					sum += syntheticPrice(when - int64(i)*model.MinuteMs)
				}
				return sum / float64(n)
			}
			if sma(fast) <= sma(slow) {
				return nil, nil
			}
			price := syntheticPrice(when)
			return &model.SignalDTO{
				Position:            model.PositionLong,
				PriceTakeProfit:     price * 1.012,
				PriceStopLoss:       price * 0.99,
				MinuteEstimatedTime: 360,
			}, nil
		},
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	days := flag.Int("days", 30, "backtest window in days")
	flag.Parse()
	godotenv.Load()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	eng, err := engine.New(cfg, engine.WithPersistenceAdapter(persistence.NewMemoryAdapter()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	end := time.Now().Truncate(time.Minute)
	start := end.Add(-time.Duration(*days) * 24 * time.Hour)

	must(eng.AddExchange(schema.ExchangeSchema{
		Name: "synthetic",
		GetCandles: func(ctx context.Context, symbol, interval string, since int64, limit int) ([]model.Candle, error) {
			step, err := model.ParseInterval(interval)
			if err != nil {
				return nil, err
			}
			return syntheticCandles(since, step.Milliseconds(), limit), nil
		},
	}))
	must(eng.AddStrategy(maCross("ma-fast", 20, 60)))
	must(eng.AddStrategy(maCross("ma-slow", 60, 240)))
	must(eng.AddRisk(schema.RiskSchema{Name: "demo-risk", MaxConcurrentPositions: 1}))
	must(eng.AddFrame(schema.FrameSchema{
		Name:     "demo-frame",
		StartMs:  start.UnixMilli(),
		EndMs:    end.UnixMilli(),
		Interval: "1h",
	}))
	must(eng.AddWalker(schema.WalkerSchema{
		Name:         "demo-walker",
		Strategies:   []string{"ma-fast", "ma-slow"},
		ExchangeName: "synthetic",
		FrameName:    "demo-frame",
		Metric:       schema.MetricSharpeRatio,
	}))

	eng.ListenWalkerProgress(func(ev events.WalkerProgressEvent) {
		fmt.Printf("tested %d/%d: %s (value %.3f, best so far %s)\n",
			ev.StrategiesTested, ev.TotalStrategies, ev.CurrentStrategy,
			ev.MetricValue, ev.BestStrategy)
	})

	res, err := eng.Walker().Run(context.Background(), symbol, "demo-walker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "walker: %v\n", err)
		os.Exit(1)
	}
	eng.Flush()

	fmt.Println(eng.Report().Markdown())
	fmt.Printf("best strategy: %s (%s = %.3f)\n", res.BestStrategy, res.Metric, res.BestMetric)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
