package engine

import "signal-engine/internal/events"

// listen adapts a typed callback onto a bus subject. Payloads of another
// type on the same subject are skipped.
func listen[T any](bus *events.Bus, topic events.Topic, fn func(T)) func() {
	return bus.Subscribe(topic, func(ev events.Event) {
		if v, ok := ev.Data.(T); ok {
			fn(v)
		}
	})
}

// listenOnce delivers at most one matching payload. A nil filter matches
// everything.
func listenOnce[T any](bus *events.Bus, topic events.Topic, filter func(T) bool, fn func(T)) func() {
	return bus.SubscribeOnce(topic, func(ev events.Event) bool {
		v, ok := ev.Data.(T)
		if !ok {
			return false
		}
		return filter == nil || filter(v)
	}, func(ev events.Event) {
		if v, ok := ev.Data.(T); ok {
			fn(v)
		}
	})
}

func (e *Engine) ListenSignal(fn func(events.SignalEvent)) func() {
	return listen(e.bus, events.TopicSignal, fn)
}

func (e *Engine) ListenSignalOnce(filter func(events.SignalEvent) bool, fn func(events.SignalEvent)) func() {
	return listenOnce(e.bus, events.TopicSignal, filter, fn)
}

func (e *Engine) ListenSignalBacktest(fn func(events.SignalEvent)) func() {
	return listen(e.bus, events.TopicSignalBacktest, fn)
}

func (e *Engine) ListenSignalBacktestOnce(filter func(events.SignalEvent) bool, fn func(events.SignalEvent)) func() {
	return listenOnce(e.bus, events.TopicSignalBacktest, filter, fn)
}

func (e *Engine) ListenSignalLive(fn func(events.SignalEvent)) func() {
	return listen(e.bus, events.TopicSignalLive, fn)
}

func (e *Engine) ListenSignalLiveOnce(filter func(events.SignalEvent) bool, fn func(events.SignalEvent)) func() {
	return listenOnce(e.bus, events.TopicSignalLive, filter, fn)
}

func (e *Engine) ListenDoneBacktest(fn func(events.DoneEvent)) func() {
	return listen(e.bus, events.TopicDoneBacktest, fn)
}

func (e *Engine) ListenDoneBacktestOnce(filter func(events.DoneEvent) bool, fn func(events.DoneEvent)) func() {
	return listenOnce(e.bus, events.TopicDoneBacktest, filter, fn)
}

func (e *Engine) ListenDoneLive(fn func(events.DoneEvent)) func() {
	return listen(e.bus, events.TopicDoneLive, fn)
}

func (e *Engine) ListenDoneLiveOnce(filter func(events.DoneEvent) bool, fn func(events.DoneEvent)) func() {
	return listenOnce(e.bus, events.TopicDoneLive, filter, fn)
}

func (e *Engine) ListenDoneWalker(fn func(events.DoneEvent)) func() {
	return listen(e.bus, events.TopicDoneWalker, fn)
}

func (e *Engine) ListenDoneWalkerOnce(filter func(events.DoneEvent) bool, fn func(events.DoneEvent)) func() {
	return listenOnce(e.bus, events.TopicDoneWalker, filter, fn)
}

func (e *Engine) ListenBacktestProgress(fn func(events.ProgressEvent)) func() {
	return listen(e.bus, events.TopicProgressBacktest, fn)
}

func (e *Engine) ListenBacktestProgressOnce(filter func(events.ProgressEvent) bool, fn func(events.ProgressEvent)) func() {
	return listenOnce(e.bus, events.TopicProgressBacktest, filter, fn)
}

func (e *Engine) ListenWalkerProgress(fn func(events.WalkerProgressEvent)) func() {
	return listen(e.bus, events.TopicProgressWalker, fn)
}

func (e *Engine) ListenWalkerProgressOnce(filter func(events.WalkerProgressEvent) bool, fn func(events.WalkerProgressEvent)) func() {
	return listenOnce(e.bus, events.TopicProgressWalker, filter, fn)
}

func (e *Engine) ListenWalkerComplete(fn func(events.WalkerCompleteEvent)) func() {
	return listen(e.bus, events.TopicWalkerComplete, fn)
}

func (e *Engine) ListenWalkerCompleteOnce(filter func(events.WalkerCompleteEvent) bool, fn func(events.WalkerCompleteEvent)) func() {
	return listenOnce(e.bus, events.TopicWalkerComplete, filter, fn)
}

func (e *Engine) ListenPartialProfit(fn func(events.PartialEvent)) func() {
	return listen(e.bus, events.TopicPartialProfit, fn)
}

func (e *Engine) ListenPartialProfitOnce(filter func(events.PartialEvent) bool, fn func(events.PartialEvent)) func() {
	return listenOnce(e.bus, events.TopicPartialProfit, filter, fn)
}

func (e *Engine) ListenPartialLoss(fn func(events.PartialEvent)) func() {
	return listen(e.bus, events.TopicPartialLoss, fn)
}

func (e *Engine) ListenPartialLossOnce(filter func(events.PartialEvent) bool, fn func(events.PartialEvent)) func() {
	return listenOnce(e.bus, events.TopicPartialLoss, filter, fn)
}

func (e *Engine) ListenBreakeven(fn func(events.BreakevenEvent)) func() {
	return listen(e.bus, events.TopicBreakeven, fn)
}

func (e *Engine) ListenBreakevenOnce(filter func(events.BreakevenEvent) bool, fn func(events.BreakevenEvent)) func() {
	return listenOnce(e.bus, events.TopicBreakeven, filter, fn)
}

func (e *Engine) ListenRisk(fn func(events.RiskEvent)) func() {
	return listen(e.bus, events.TopicRisk, fn)
}

func (e *Engine) ListenRiskOnce(filter func(events.RiskEvent) bool, fn func(events.RiskEvent)) func() {
	return listenOnce(e.bus, events.TopicRisk, filter, fn)
}

func (e *Engine) ListenPerformance(fn func(events.PerformanceEvent)) func() {
	return listen(e.bus, events.TopicPerformance, fn)
}

func (e *Engine) ListenPerformanceOnce(filter func(events.PerformanceEvent) bool, fn func(events.PerformanceEvent)) func() {
	return listenOnce(e.bus, events.TopicPerformance, filter, fn)
}

func (e *Engine) ListenError(fn func(events.ErrorEvent)) func() {
	return listen(e.bus, events.TopicError, fn)
}

func (e *Engine) ListenErrorOnce(filter func(events.ErrorEvent) bool, fn func(events.ErrorEvent)) func() {
	return listenOnce(e.bus, events.TopicError, filter, fn)
}

func (e *Engine) ListenExit(fn func(events.ErrorEvent)) func() {
	return listen(e.bus, events.TopicExit, fn)
}

func (e *Engine) ListenExitOnce(filter func(events.ErrorEvent) bool, fn func(events.ErrorEvent)) func() {
	return listenOnce(e.bus, events.TopicExit, filter, fn)
}
