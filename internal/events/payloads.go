package events

import "signal-engine/internal/model"

// SignalEvent is published on the signal topics for every lifecycle
// transition. Action mirrors the tick result kind.
type SignalEvent struct {
	Action       model.TickKind   `json:"action"`
	Symbol       string           `json:"symbol"`
	StrategyName string           `json:"strategyName"`
	ExchangeName string           `json:"exchangeName"`
	Backtest     bool             `json:"backtest"`
	Signal       *model.SignalRow `json:"signal,omitempty"`
	PnL          *model.PnL       `json:"pnl,omitempty"`
}

// PartialEvent marks a 10%-multiple PnL milestone, fired once per signal per
// signed level.
type PartialEvent struct {
	Symbol       string           `json:"symbol"`
	StrategyName string           `json:"strategyName"`
	Level        int              `json:"level"` // 10..90
	Timestamp    int64            `json:"timestamp"`
	Signal       *model.SignalRow `json:"signal"`
}

// BreakevenEvent marks the one-time stop move to the cost-adjusted entry.
type BreakevenEvent struct {
	Symbol       string           `json:"symbol"`
	StrategyName string           `json:"strategyName"`
	Timestamp    int64            `json:"timestamp"`
	OldStopLoss  float64          `json:"oldStopLoss"`
	NewStopLoss  float64          `json:"newStopLoss"`
	Signal       *model.SignalRow `json:"signal"`
}

// RiskEvent reports a rejected signal candidate.
type RiskEvent struct {
	Symbol       string `json:"symbol"`
	StrategyName string `json:"strategyName"`
	RiskName     string `json:"riskName"`
	Reason       string `json:"reason"`
}

// ProgressEvent tracks backtest frame iteration.
type ProgressEvent struct {
	Symbol          string `json:"symbol"`
	StrategyName    string `json:"strategyName"`
	ProcessedFrames int    `json:"processedFrames"`
	TotalFrames     int    `json:"totalFrames"`
}

// WalkerProgressEvent is published after each strategy a walker finishes.
type WalkerProgressEvent struct {
	WalkerName       string  `json:"walkerName"`
	Symbol           string  `json:"symbol"`
	StrategiesTested int     `json:"strategiesTested"`
	TotalStrategies  int     `json:"totalStrategies"`
	CurrentStrategy  string  `json:"currentStrategy"`
	BestStrategy     string  `json:"bestStrategy"`
	BestMetric       float64 `json:"bestMetric"`
	MetricValue      float64 `json:"metricValue"`
}

// WalkerCompleteEvent carries the final ranking result.
type WalkerCompleteEvent struct {
	WalkerName   string             `json:"walkerName"`
	Symbol       string             `json:"symbol"`
	BestStrategy string             `json:"bestStrategy"`
	BestMetric   float64            `json:"bestMetric"`
	Metric       string             `json:"metric"`
	Results      map[string]float64 `json:"results"`
	Errors       map[string]string  `json:"errors,omitempty"`
}

// PerformanceEvent carries a measured duration, e.g. live_tick.
type PerformanceEvent struct {
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	DurationMs int64  `json:"durationMs"`
}

// ErrorEvent reports a recoverable error. Fatal conditions go to TopicExit
// with the same shape.
type ErrorEvent struct {
	Source       string `json:"source"`
	Symbol       string `json:"symbol"`
	StrategyName string `json:"strategyName,omitempty"`
	Message      string `json:"message"`
}

// DoneEvent closes out a backtest, live, or walker task.
type DoneEvent struct {
	Symbol       string `json:"symbol"`
	StrategyName string `json:"strategyName,omitempty"`
	ExchangeName string `json:"exchangeName,omitempty"`
	FrameName    string `json:"frameName,omitempty"`
	WalkerName   string `json:"walkerName,omitempty"`
	Backtest     bool   `json:"backtest"`
}
