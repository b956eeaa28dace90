package partial

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-engine/internal/events"
	"signal-engine/internal/model"
)

func collect(bus *events.Bus, topic events.Topic) (*[]events.PartialEvent, *sync.Mutex) {
	var mu sync.Mutex
	var got []events.PartialEvent
	bus.Subscribe(topic, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev.Data.(events.PartialEvent))
		mu.Unlock()
	})
	return &got, &mu
}

func TestProfitLevelsFireOnceAscending(t *testing.T) {
	bus := events.NewBus()
	got, mu := collect(bus, events.TopicPartialProfit)
	c := NewClient(bus, zerolog.Nop())
	row := &model.SignalRow{Symbol: "BTCUSDT", StrategyName: "s"}

	c.Check(row, 25, 1000)
	c.Check(row, 25, 2000) // same PnL again must not re-fire
	bus.Flush()

	mu.Lock()
	require.Len(t, *got, 2)
	assert.Equal(t, 10, (*got)[0].Level)
	assert.Equal(t, 20, (*got)[1].Level)
	mu.Unlock()
	assert.Equal(t, []int{10, 20}, row.TotalExecuted)
}

func TestLossLevelsSignedSeparately(t *testing.T) {
	bus := events.NewBus()
	profits, pmu := collect(bus, events.TopicPartialProfit)
	losses, lmu := collect(bus, events.TopicPartialLoss)
	c := NewClient(bus, zerolog.Nop())
	row := &model.SignalRow{Symbol: "BTCUSDT", StrategyName: "s"}

	c.Check(row, -12, 1000)
	c.Check(row, 15, 2000)
	c.Check(row, -12, 3000)
	bus.Flush()

	lmu.Lock()
	require.Len(t, *losses, 1, "loss level fires once despite revisiting")
	assert.Equal(t, 10, (*losses)[0].Level)
	lmu.Unlock()

	pmu.Lock()
	require.Len(t, *profits, 1, "a loss level does not block the profit side")
	assert.Equal(t, 10, (*profits)[0].Level)
	pmu.Unlock()

	assert.ElementsMatch(t, []int{-10, 10}, row.TotalExecuted)
}

func TestBigJumpFiresAllCrossedLevels(t *testing.T) {
	bus := events.NewBus()
	got, mu := collect(bus, events.TopicPartialProfit)
	c := NewClient(bus, zerolog.Nop())
	row := &model.SignalRow{Symbol: "BTCUSDT", StrategyName: "s"}

	c.Check(row, 95, 1000)
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 9)
	for i, ev := range *got {
		assert.Equal(t, (i+1)*10, ev.Level, "levels fire in ascending order")
	}
}

func TestSurvivesRestartViaRow(t *testing.T) {
	bus := events.NewBus()
	got, mu := collect(bus, events.TopicPartialProfit)
	c := NewClient(bus, zerolog.Nop())

	// A restored row already carries its fired levels.
	row := &model.SignalRow{Symbol: "BTCUSDT", StrategyName: "s", TotalExecuted: []int{10, 20}}
	c.Check(row, 25, 1000)
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, *got, "persisted levels must not re-fire after restore")
}
