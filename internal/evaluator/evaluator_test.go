package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"triarbiter/internal/models"
	"triarbiter/internal/quotestore"
)

func s1Cycle() models.ArbitrageCycle {
	return models.ArbitrageCycle{
		ID:               "USDT:BTC_USDT>ETH_BTC>ETH_USDT",
		StartingCurrency: "USDT",
		Instruments:      [3]string{"BTC_USDT", "ETH_BTC", "ETH_USDT"},
		Legs: [3]models.CycleLeg{
			{InstrumentName: "BTC_USDT", Side: models.SideBuy, QuantityDecimals: 6, PriceDecimals: 2},
			{InstrumentName: "ETH_BTC", Side: models.SideBuy, QuantityDecimals: 6, PriceDecimals: 6},
			{InstrumentName: "ETH_USDT", Side: models.SideSell, QuantityDecimals: 6, PriceDecimals: 2},
		},
	}
}

func seedQuotes(store *quotestore.Store, btcUsdtBid, btcUsdtAsk, ethBtcBid, ethBtcAsk, ethUsdtBid, ethUsdtAsk float64) {
	now := time.Now()
	store.Update(models.Quote{InstrumentName: "BTC_USDT", Bid: decimal.NewFromFloat(btcUsdtBid), Ask: decimal.NewFromFloat(btcUsdtAsk), Timestamp: now})
	store.Update(models.Quote{InstrumentName: "ETH_BTC", Bid: decimal.NewFromFloat(ethBtcBid), Ask: decimal.NewFromFloat(ethBtcAsk), Timestamp: now})
	store.Update(models.Quote{InstrumentName: "ETH_USDT", Bid: decimal.NewFromFloat(ethUsdtBid), Ask: decimal.NewFromFloat(ethUsdtAsk), Timestamp: now})
}

// TestEvaluate_S1_BelowThreshold matches spec §8 S1: gain ~0.99805, below threshold.
func TestEvaluate_S1_BelowThreshold(t *testing.T) {
	store := quotestore.New()
	seedQuotes(store, 60000, 60001, 0.05, 0.050001, 3001, 3002)

	e := New(store, models.NewExecutionSlots(), decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), false)
	result := e.Evaluate(s1Cycle())

	require.False(t, result.Skipped)
	require.False(t, result.AboveThreshold)
	require.True(t, result.Gain.LessThan(decimal.NewFromFloat(1.0)))
}

// TestEvaluate_S2_AboveThreshold matches spec §8 S2: ETH_USDT bid shifted to 3040, gain ~1.01102.
func TestEvaluate_S2_AboveThreshold(t *testing.T) {
	store := quotestore.New()
	seedQuotes(store, 60000, 60001, 0.05, 0.050001, 3040, 3041)

	e := New(store, models.NewExecutionSlots(), decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), false)
	result := e.Evaluate(s1Cycle())

	require.True(t, result.AboveThreshold)
	slot, ok := e.ShouldExecute(result)
	require.True(t, ok)
	require.NotNil(t, slot)
	slot.Release()
}

// TestShouldExecute_S3_ResearchModeNeverExecutes matches spec §8 S3.
func TestShouldExecute_S3_ResearchModeNeverExecutes(t *testing.T) {
	store := quotestore.New()
	seedQuotes(store, 60000, 60001, 0.05, 0.050001, 3040, 3041)

	e := New(store, models.NewExecutionSlots(), decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), true)
	result := e.Evaluate(s1Cycle())
	require.True(t, result.AboveThreshold)

	_, ok := e.ShouldExecute(result)
	require.False(t, ok, "research mode must never dispatch to the executor")
}

func TestEvaluate_Idempotent(t *testing.T) {
	store := quotestore.New()
	seedQuotes(store, 60000, 60001, 0.05, 0.050001, 3001, 3002)

	e := New(store, models.NewExecutionSlots(), decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), false)
	r1 := e.Evaluate(s1Cycle())
	r2 := e.Evaluate(s1Cycle())
	require.True(t, r1.Gain.Equal(r2.Gain), "evaluating the same snapshot twice must yield the same gain")
}

func TestShouldExecute_MutualExclusionPerStartingCurrency(t *testing.T) {
	store := quotestore.New()
	seedQuotes(store, 60000, 60001, 0.05, 0.050001, 3040, 3041)

	slots := models.NewExecutionSlots()
	e := New(store, slots, decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), false)
	result := e.Evaluate(s1Cycle())

	slot1, ok1 := e.ShouldExecute(result)
	require.True(t, ok1)
	defer slot1.Release()

	_, ok2 := e.ShouldExecute(result)
	require.False(t, ok2, "a second cycle on the same starting currency must not acquire the slot")
}
