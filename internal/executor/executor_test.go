package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"triarbiter/internal/models"
)

// fakeOrders - тестовый двойник userfeed.Client. Имитирует ровно одну
// активную подписку за раз, что соответствует тому, как Исполнитель
// реально использует orderClient (Subscribe в начале ноги, Unsubscribe
// через defer в конце).
type fakeOrders struct {
	mu            sync.Mutex
	createCount   int
	cancelled     []string
	current       chan models.OrderState
	subscriptions int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (int64, error) {
	f.mu.Lock()
	f.createCount++
	id := f.createCount
	f.mu.Unlock()
	return int64(id), nil
}

func (f *fakeOrders) CancelAll(ctx context.Context, instrumentName string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, instrumentName)
	f.mu.Unlock()
	return nil
}

func (f *fakeOrders) Subscribe() (int, <-chan models.OrderState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan models.OrderState, 4)
	f.current = ch
	f.subscriptions++
	return 1, ch
}

func (f *fakeOrders) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		close(f.current)
		f.current = nil
	}
}

// push delivers state to the n-th subscription (counting from 1), i.e. to
// the n-th leg. Returns false without blocking if that subscription is not
// the active one yet.
func (f *fakeOrders) push(n int, state models.OrderState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil || f.subscriptions != n {
		return false
	}
	f.current <- state
	return true
}

func (f *fakeOrders) pushWhenSubscribed(t *testing.T, n int, state models.OrderState) {
	t.Helper()
	require.Eventually(t, func() bool { return f.push(n, state) }, time.Second, time.Millisecond)
}

// fakeQuotes вручает фиксированную котировку для любого запрошенного инструмента.
type fakeQuotes struct {
	quote models.Quote
}

func (f fakeQuotes) Get(instrumentName string) (models.Quote, bool) {
	q := f.quote
	q.InstrumentName = instrumentName
	return q, true
}

// fakeSink записывает переданные терминальные записи и остаточные позиции.
type fakeSink struct {
	mu        sync.Mutex
	records   []models.ExecutedCycleRecord
	residuals []models.ResidualPosition
}

func (f *fakeSink) Record(ctx context.Context, record models.ExecutedCycleRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

func (f *fakeSink) RecordResidual(ctx context.Context, pos models.ResidualPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.residuals = append(f.residuals, pos)
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

// TestExecute_S4_ZeroFillTimeoutAborts matches spec §8 S4: the first leg never
// fills before ARB_EXECUTOR_ORDER_TIMEOUT, cancel-all is issued and the
// cycle aborts with the starting balance otherwise untouched.
func TestExecute_S4_ZeroFillTimeoutAborts(t *testing.T) {
	orders := newFakeOrders()
	quotes := fakeQuotes{quote: models.Quote{Bid: decimal.NewFromFloat(60000), Ask: decimal.NewFromFloat(60001), Timestamp: time.Now()}}
	sink := &fakeSink{}

	ex := New(orders, quotes, sink, 20*time.Millisecond, 50*time.Millisecond)
	record := ex.Execute(context.Background(), testCycle(), decimal.NewFromInt(1000))

	require.Equal(t, models.OutcomeAborted, record.Outcome)
	require.Len(t, record.Legs, 1)
	require.Equal(t, models.ErrorKindTimeout, record.Legs[0].ErrorKind)
	require.True(t, record.RealizedBalance.IsZero())
	require.Contains(t, orders.cancelled, "BTC_USDT")
	require.Empty(t, sink.residuals, "no funds were stranded on a zero-fill timeout")
	require.Len(t, sink.records, 1)
}

// TestExecute_S5_PartialFillContinuesWithProceeds matches spec §8 S5: the
// first leg partially fills 40% then times out. Cancel-all is issued, but the
// cycle continues into the second leg with the 40% proceeds, and the untraded 60% is
// recorded as a residual rather than aborting the cycle.
func TestExecute_S5_PartialFillContinuesWithProceeds(t *testing.T) {
	orders := newFakeOrders()
	quotes := fakeQuotes{quote: models.Quote{
		Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(1),
		Timestamp: time.Now(),
	}}
	sink := &fakeSink{}

	ex := New(orders, quotes, sink, 30*time.Millisecond, 40*time.Millisecond)

	go func() {
		orders.pushWhenSubscribed(t, 1, models.OrderState{
			InstrumentName:     "BTC_USDT",
			Status:             models.OrderStatusPartiallyFilled,
			CumulativeQuantity: decimal.NewFromInt(400),
			CumulativeValue:    decimal.NewFromInt(400),
		})
		orders.pushWhenSubscribed(t, 2, models.OrderState{
			InstrumentName:     "ETH_BTC",
			Status:             models.OrderStatusFilled,
			CumulativeQuantity: decimal.NewFromInt(400),
			CumulativeValue:    decimal.NewFromInt(400),
		})
		orders.pushWhenSubscribed(t, 3, models.OrderState{
			InstrumentName:     "ETH_USDT",
			Status:             models.OrderStatusFilled,
			CumulativeQuantity: decimal.NewFromInt(400),
			CumulativeValue:    decimal.NewFromInt(400),
		})
	}()

	record := ex.Execute(context.Background(), testCycle(), decimal.NewFromInt(1000))

	require.Equal(t, models.OutcomeCompleted, record.Outcome,
		"a partial fill on the first leg must not abort the cycle")
	require.Len(t, record.Legs, 3)
	require.Equal(t, models.ErrorKindPartial, record.Legs[0].ErrorKind)
	require.Empty(t, record.Legs[1].ErrorKind)
	require.Empty(t, record.Legs[2].ErrorKind)
	require.Contains(t, orders.cancelled, "BTC_USDT")

	require.Len(t, sink.residuals, 1)
	residual := sink.residuals[0]
	require.Equal(t, 0, residual.LegIndex)
	require.True(t, residual.Quantity.Equal(decimal.NewFromInt(600)),
		"residual must be the untraded 60%% of the pre-leg balance (1000 - 400 filled)")
}
