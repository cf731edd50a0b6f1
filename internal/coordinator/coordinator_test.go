package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"triarbiter/internal/evaluator"
	"triarbiter/internal/executor"
	"triarbiter/internal/models"
	"triarbiter/internal/quotestore"
)

// fakeDispatch - подмножество marketfeed.Client, управляемое тестом
// напрямую через Publish вместо реального websocket-соединения.
type fakeDispatch struct {
	mu   sync.Mutex
	subs map[int]chan string
	next int
}

func newFakeDispatch() *fakeDispatch {
	return &fakeDispatch{subs: make(map[int]chan string)}
}

func (d *fakeDispatch) Dispatch() (int, <-chan string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	ch := make(chan string, 4)
	d.subs[id] = ch
	return id, ch
}

func (d *fakeDispatch) UnsubscribeDispatch(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, id)
}

func (d *fakeDispatch) publish(instrumentName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		ch <- instrumentName
	}
}

// fakeOrders fills every leg immediately at the requested quantity/value.
type fakeOrders struct {
	mu      sync.Mutex
	current chan models.OrderState
}

func (f *fakeOrders) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (int64, error) {
	value := req.Quantity
	if req.Side == models.SideBuy {
		value = req.Quantity.Mul(req.Price)
	}
	go func() {
		f.mu.Lock()
		ch := f.current
		f.mu.Unlock()
		if ch == nil {
			return
		}
		ch <- models.OrderState{
			InstrumentName:     req.InstrumentName,
			Status:             models.OrderStatusFilled,
			CumulativeQuantity: req.Quantity,
			CumulativeValue:    value,
		}
	}()
	return 1, nil
}

func (f *fakeOrders) CancelAll(ctx context.Context, instrumentName string) error { return nil }

func (f *fakeOrders) Subscribe() (int, <-chan models.OrderState) {
	ch := make(chan models.OrderState, 4)
	f.mu.Lock()
	f.current = ch
	f.mu.Unlock()
	return 1, ch
}

func (f *fakeOrders) Unsubscribe(id int) {
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
}

type fakeSink struct {
	mu      sync.Mutex
	records []models.ExecutedCycleRecord
}

func (s *fakeSink) Record(ctx context.Context, record models.ExecutedCycleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *fakeSink) RecordResidual(ctx context.Context, pos models.ResidualPosition) {}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testCycle() models.ArbitrageCycle {
	return models.ArbitrageCycle{
		ID:               "USDT:BTC_USDT>ETH_BTC>ETH_USDT",
		StartingCurrency: "USDT",
		Instruments:      [3]string{"BTC_USDT", "ETH_BTC", "ETH_USDT"},
		Legs: [3]models.CycleLeg{
			{InstrumentName: "BTC_USDT", Side: models.SideBuy, QuantityDecimals: 6, PriceDecimals: 2, MinQuantity: decimal.NewFromFloat(0.0001)},
			{InstrumentName: "ETH_BTC", Side: models.SideBuy, QuantityDecimals: 6, PriceDecimals: 6, MinQuantity: decimal.NewFromFloat(0.0001)},
			{InstrumentName: "ETH_USDT", Side: models.SideSell, QuantityDecimals: 6, PriceDecimals: 2, MinQuantity: decimal.NewFromFloat(0.0001)},
		},
	}
}

// TestRun_DispatchesAboveThresholdCycleAndReleasesSlot exercises the full
// dispatch -> evaluate -> execute -> release path end to end.
func TestRun_DispatchesAboveThresholdCycleAndReleasesSlot(t *testing.T) {
	store := quotestore.New()
	now := time.Now()
	store.Update(models.Quote{InstrumentName: "BTC_USDT", Bid: decimal.NewFromFloat(60000), Ask: decimal.NewFromFloat(60001), Timestamp: now})
	store.Update(models.Quote{InstrumentName: "ETH_BTC", Bid: decimal.NewFromFloat(0.05), Ask: decimal.NewFromFloat(0.050001), Timestamp: now})
	store.Update(models.Quote{InstrumentName: "ETH_USDT", Bid: decimal.NewFromFloat(3040), Ask: decimal.NewFromFloat(3041), Timestamp: now})

	slots := models.NewExecutionSlots()
	eval := evaluator.New(store, slots, decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), false)

	orders := &fakeOrders{}
	sink := &fakeSink{}
	exec := executor.New(orders, store, sink, 3*time.Second, 180*time.Second)

	dispatch := newFakeDispatch()
	balances := models.StartingBalance{"USDT": decimal.NewFromInt(1000)}
	coord := New(dispatch, eval, exec, balances, []models.ArbitrageCycle{testCycle()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	dispatch.publish("BTC_USDT")

	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.True(t, slots.Slot("USDT").TryAcquire(), "slot must be released after the cycle finishes")
	slots.Slot("USDT").Release()

	cancel()
	<-done
}

// TestRun_BelowThresholdCycleNeverExecutes matches the evaluator's S1 case:
// a cycle below GAIN_THRESHOLD must never reach the executor.
func TestRun_BelowThresholdCycleNeverExecutes(t *testing.T) {
	store := quotestore.New()
	now := time.Now()
	store.Update(models.Quote{InstrumentName: "BTC_USDT", Bid: decimal.NewFromFloat(60000), Ask: decimal.NewFromFloat(60001), Timestamp: now})
	store.Update(models.Quote{InstrumentName: "ETH_BTC", Bid: decimal.NewFromFloat(0.05), Ask: decimal.NewFromFloat(0.050001), Timestamp: now})
	store.Update(models.Quote{InstrumentName: "ETH_USDT", Bid: decimal.NewFromFloat(3001), Ask: decimal.NewFromFloat(3002), Timestamp: now})

	slots := models.NewExecutionSlots()
	eval := evaluator.New(store, slots, decimal.NewFromFloat(1.001), decimal.NewFromFloat(0.99925), false)

	orders := &fakeOrders{}
	sink := &fakeSink{}
	exec := executor.New(orders, store, sink, 3*time.Second, 180*time.Second)

	dispatch := newFakeDispatch()
	balances := models.StartingBalance{"USDT": decimal.NewFromInt(1000)}
	coord := New(dispatch, eval, exec, balances, []models.ArbitrageCycle{testCycle()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	dispatch.publish("BTC_USDT")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, sink.count())

	cancel()
	<-done
}
