// Demo live runner: polls a momentum strategy against Binance spot market
// data. No orders are placed; signals are printed as events arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"signal-engine/config"
	"signal-engine/engine"
	"signal-engine/internal/binance"
	"signal-engine/internal/events"
	"signal-engine/internal/model"
	"signal-engine/internal/schema"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	symbol := flag.String("symbol", "BTCUSDT", "trading pair")
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

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exchSchema, stream := binance.ExchangeSchema("binance", binance.Options{
		BaseURL:       os.Getenv("BINANCE_BASE_URL"),
		StreamSymbols: []string{*symbol},
	})
	must(eng.AddExchange(exchSchema))
	go stream.Run(ctx)

	client := binance.NewClient(os.Getenv("BINANCE_BASE_URL"))
	must(eng.AddStrategy(schema.StrategySchema{
		Name:     "momentum",
		Interval: "5m",
		GetSignal: func(ctx context.Context, symbol string, when int64) (*model.SignalDTO, error) {
			candles, err := client.GetCandles(ctx, symbol, "5m", when-12*5*model.MinuteMs, 12)
			if err != nil {
				return nil, err
			}
			if len(candles) < 12 {
				return nil, nil
			}
			first, last := candles[0].Close, candles[len(candles)-1].Close
			if (last-first)/first < 0.004 {
				return nil, nil
			}
			return &model.SignalDTO{
				Position:            model.PositionLong,
				PriceTakeProfit:     last * 1.008,
				PriceStopLoss:       last * 0.994,
				MinuteEstimatedTime: 180,
			}, nil
		},
	}))

	eng.ListenSignalLive(func(ev events.SignalEvent) {
		if ev.PnL != nil {
			fmt.Printf("[%s] %s %s reason=%s pnl=%.2f%%\n",
				ev.Symbol, ev.StrategyName, ev.Action, ev.Signal.CloseReason, ev.PnL.PnlPercentage)
			return
		}
		fmt.Printf("[%s] %s %s\n", ev.Symbol, ev.StrategyName, ev.Action)
	})
	eng.ListenError(func(ev events.ErrorEvent) {
		fmt.Fprintf(os.Stderr, "error from %s: %s\n", ev.Source, ev.Message)
	})

	handle := eng.Live().Run(ctx, *symbol, engine.LiveParams{
		StrategyName: "momentum",
		ExchangeName: "binance",
	})
	go func() {
		for range handle.Results() {
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("stopping: waiting for the open signal to close")
	if err := handle.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	select {
	case <-sig:
		// Second interrupt hard-cancels.
		handle.Cancel()
	case <-waitDone(handle):
	}
	eng.Flush()
}

func waitDone(h interface{ Wait() error }) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	return done
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
