// Package executor реализует последовательное выполнение трёх ног
// одного цикла треугольного арбитража через User Feed, в соответствии
// с конечным автоматом state_machine.go (spec §4.6).
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"triarbiter/internal/metrics"
	"triarbiter/internal/models"
	"triarbiter/pkg/decimalutil"
	"triarbiter/pkg/utils"
)

var (
	errZeroPrice  = errors.New("zero price")
	errUndersized = errors.New("quantity below instrument minimum")
)

// orderClient - подмножество методов userfeed.Client, нужное Исполнителю.
// Выделено интерфейсом, чтобы тесты могли подставить фиктивную биржу без
// поднятия настоящего websocket-соединения.
type orderClient interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (int64, error)
	CancelAll(ctx context.Context, instrumentName string) error
	Subscribe() (int, <-chan models.OrderState)
	Unsubscribe(id int)
}

// quoteSource - подмножество quotestore.Store, нужное для определения
// цены ноги по дальней стороне стакана на момент отправки заявки.
type quoteSource interface {
	Get(instrumentName string) (models.Quote, bool)
}

// ReconcileSink принимает терминальные записи о циклах и остаточные
// позиции для персистентности/публикации (SPEC_FULL.md §4.8).
type ReconcileSink interface {
	Record(ctx context.Context, record models.ExecutedCycleRecord)
	RecordResidual(ctx context.Context, pos models.ResidualPosition)
}

// Executor выполняет один цикл за раз на закреплённом слоте стартовой валюты.
type Executor struct {
	orders         orderClient
	quotes         quoteSource
	sink           ReconcileSink
	orderTimeout   time.Duration
	pendingTimeout time.Duration
	log            *utils.Logger
}

// New создаёт Исполнителя.
func New(orders orderClient, quotes quoteSource, sink ReconcileSink, orderTimeout, pendingTimeout time.Duration) *Executor {
	return &Executor{
		orders:         orders,
		quotes:         quotes,
		sink:           sink,
		orderTimeout:   orderTimeout,
		pendingTimeout: pendingTimeout,
		log:            utils.L().WithComponent("executor"),
	}
}

// Execute проводит цикл через все три ноги последовательно. Вызывающий
// обязан держать ExecutionSlot цикла занятым на всё время вызова и
// освободить его после возврата (Evaluator.ShouldExecute уже занял его).
func (ex *Executor) Execute(ctx context.Context, cycle models.ArbitrageCycle, startingBalance decimal.Decimal) models.ExecutedCycleRecord {
	startedAt := time.Now()
	record := models.ExecutedCycleRecord{
		CycleID:          cycle.ID,
		StartingCurrency: cycle.StartingCurrency,
		StartedAt:        startedAt,
		Outcome:          models.OutcomeAborted,
	}

	heldQuantity := startingBalance
	for i, leg := range cycle.Legs {
		outcome, nextHeld, aborted := ex.executeLeg(ctx, cycle.ID, i, leg, heldQuantity)
		record.Legs = append(record.Legs, outcome)
		metrics.RecordLegOutcome(leg.InstrumentName, string(outcome.ErrorKind))

		// A Partial outcome always leaves a stranded remainder of heldQuantity
		// behind (the cancelled order's unfilled quantity) regardless of
		// whether the cycle aborts here or continues with the partial
		// proceeds into the next leg (spec §8 S5).
		if outcome.ErrorKind == models.ErrorKindPartial {
			if leftover := heldQuantity.Sub(legConsumed(leg, outcome.FilledQuantity, outcome.FilledValue)); leftover.GreaterThan(decimal.Zero) {
				ex.sink.RecordResidual(ctx, models.ResidualPosition{
					CycleID:    cycle.ID,
					LegIndex:   i,
					Asset:      legHeldAsset(leg),
					Quantity:   leftover,
					Reason:     outcome.ErrorKind,
					RecordedAt: time.Now(),
				})
				metrics.RecordResidual(string(outcome.ErrorKind))
			}
		} else if aborted && outcome.FilledQuantity.GreaterThan(decimal.Zero) && i < len(cycle.Legs)-1 {
			ex.sink.RecordResidual(ctx, models.ResidualPosition{
				CycleID:    cycle.ID,
				LegIndex:   i,
				Asset:      legHeldAsset(leg),
				Quantity:   nextHeld,
				Reason:     outcome.ErrorKind,
				RecordedAt: time.Now(),
			})
			metrics.RecordResidual(string(outcome.ErrorKind))
		} else if aborted && outcome.FilledQuantity.IsZero() && i > 0 {
			// Nothing traded on this leg: the previous leg's proceeds are
			// left stranded in full.
			ex.sink.RecordResidual(ctx, models.ResidualPosition{
				CycleID:    cycle.ID,
				LegIndex:   i,
				Asset:      legHeldAsset(leg),
				Quantity:   heldQuantity,
				Reason:     outcome.ErrorKind,
				RecordedAt: time.Now(),
			})
			metrics.RecordResidual(string(outcome.ErrorKind))
		}

		if aborted {
			record.FinishedAt = time.Now()
			record.RealizedBalance = nextHeld
			metrics.RecordCycleLatency(string(record.Outcome), float64(record.FinishedAt.Sub(startedAt).Milliseconds()))
			ex.log.Warn("cycle aborted",
				utils.String("cycle_id", cycle.ID), utils.Int("leg", i), utils.String("error_kind", string(outcome.ErrorKind)))
			ex.sink.Record(ctx, record)
			return record
		}
		heldQuantity = nextHeld
	}

	record.Outcome = models.OutcomeCompleted
	record.FinishedAt = time.Now()
	record.RealizedBalance = heldQuantity
	if !startingBalance.IsZero() {
		record.GainEstimate = heldQuantity.Div(startingBalance)
	}
	metrics.RecordCycleLatency(string(record.Outcome), float64(record.FinishedAt.Sub(startedAt).Milliseconds()))

	ex.log.Info("cycle completed",
		utils.String("cycle_id", cycle.ID), utils.String("realized_balance", heldQuantity.String()))
	ex.sink.Record(ctx, record)
	return record
}

// executeLeg runs one leg through Idle -> Submitting -> Working -> terminal.
// Returns the outcome, the quantity of the resulting asset held after this
// leg (zero on total failure), and whether the cycle must abort here.
func (ex *Executor) executeLeg(ctx context.Context, cycleID string, legIndex int, leg models.CycleLeg, heldQuantity decimal.Decimal) (models.LegOutcome, decimal.Decimal, bool) {
	quote, ok := ex.quotes.Get(leg.InstrumentName)
	if !ok {
		return models.LegOutcome{InstrumentName: leg.InstrumentName, Side: leg.Side, State: string(StateIdle), ErrorKind: models.ErrorKindSkipped}, decimal.Zero, true
	}

	price, quantity, underErr := ex.priceAndQuantity(leg, quote, heldQuantity)
	if underErr != nil {
		return models.LegOutcome{InstrumentName: leg.InstrumentName, Side: leg.Side, State: string(StateIdle), ErrorKind: models.ErrorKindUndersized}, decimal.Zero, true
	}

	tif := models.TimeInForceGTC
	if legIndex > 0 {
		tif = models.TimeInForceIOC // bound exposure on legs 1-2 (spec §9 open question)
	}

	_, err := ex.orders.CreateOrder(ctx, models.CreateOrderRequest{
		InstrumentName: leg.InstrumentName,
		Side:           leg.Side,
		Type:           models.OrderType,
		Price:          price,
		Quantity:       quantity,
		TimeInForce:    tif,
	})
	if err != nil {
		return models.LegOutcome{InstrumentName: leg.InstrumentName, Side: leg.Side, State: string(StateSubmitting), ErrorKind: models.ErrorKindTransport}, decimal.Zero, true
	}

	subID, updates := ex.orders.Subscribe()
	defer ex.orders.Unsubscribe(subID)

	orderTimer := time.NewTimer(ex.orderTimeout)
	defer orderTimer.Stop()
	var pendingTimer *time.Timer

	var lastFilled, lastValue decimal.Decimal

	for {
		select {
		case <-ctx.Done():
			return ex.abortLeg(ctx, leg, legIndex, lastFilled, lastValue, models.ErrorKindTimeout)

		case <-orderTimer.C:
			if lastFilled.IsZero() {
				return ex.abortLeg(ctx, leg, legIndex, lastFilled, lastValue, models.ErrorKindTimeout)
			}
			// some fill observed already, give it until pendingTimeout to complete.
			if pendingTimer == nil {
				pendingTimer = time.NewTimer(ex.pendingTimeout)
				defer pendingTimer.Stop()
			}

		case <-pendingTimerC(pendingTimer):
			return ex.recoverPartial(ctx, leg, lastFilled, lastValue)

		case upd, open := <-updates:
			if !open {
				return ex.abortLeg(ctx, leg, legIndex, lastFilled, lastValue, models.ErrorKindTransport)
			}
			if upd.InstrumentName != leg.InstrumentName {
				continue
			}
			lastFilled = upd.CumulativeQuantity
			lastValue = upd.CumulativeValue

			switch upd.Status {
			case models.OrderStatusRejected:
				kind := models.ErrorKindExchangeReject
				return models.LegOutcome{
					InstrumentName: leg.InstrumentName, Side: leg.Side, State: string(StateWorking),
					FilledQuantity: lastFilled, FilledValue: lastValue, ErrorKind: kind,
				}, legProceeds(leg, lastFilled, lastValue), true

			case models.OrderStatusFilled:
				return models.LegOutcome{
					InstrumentName: leg.InstrumentName, Side: leg.Side, State: string(StateFilled),
					FilledQuantity: lastFilled, FilledValue: lastValue,
				}, legProceeds(leg, lastFilled, lastValue), false

			case models.OrderStatusCanceled, models.OrderStatusExpired:
				if lastFilled.IsZero() {
					return models.LegOutcome{
						InstrumentName: leg.InstrumentName, Side: leg.Side, State: string(StateTimedOut),
						ErrorKind: models.ErrorKindTimeout,
					}, decimal.Zero, true
				}
				return ex.recoverPartial(ctx, leg, lastFilled, lastValue)

			case models.OrderStatusPartiallyFilled:
				// keep waiting; pendingTimer (if armed) governs how long.
			}
		}
	}
}

// abortLeg cancels the resting order and returns an outcome carrying the
// given error kind, in state Cancel when nothing filled and Recover otherwise;
// its bool result is always true, so the cycle aborts.
func (ex *Executor) abortLeg(ctx context.Context, leg models.CycleLeg, legIndex int, filled, value decimal.Decimal, kind models.ErrorKind) (models.LegOutcome, decimal.Decimal, bool) {
	if err := ex.orders.CancelAll(ctx, leg.InstrumentName); err != nil {
		ex.log.Warn("cancel-all failed during abort", utils.String("instrument", leg.InstrumentName), utils.Err(err))
	}

	state := StateCancel
	if !filled.IsZero() {
		state = StateRecover
	}
	return models.LegOutcome{
		InstrumentName: leg.InstrumentName,
		Side:           leg.Side,
		State:          string(state),
		FilledQuantity: filled,
		FilledValue:    value,
		ErrorKind:      kind,
	}, legProceeds(leg, filled, value), true
}

// recoverPartial cancels the resting order on a leg that only partially
// filled before its pending deadline and lets the cycle continue into the
// next leg with whatever proceeds were actually realized (spec §8 S5): a
// partial fill is not a reject, so the remaining legs still have a chance
// to land. The untraded remainder of the pre-leg balance is reported by the
// caller as a residual position, not folded into the next leg's quantity.
func (ex *Executor) recoverPartial(ctx context.Context, leg models.CycleLeg, filled, value decimal.Decimal) (models.LegOutcome, decimal.Decimal, bool) {
	if err := ex.orders.CancelAll(ctx, leg.InstrumentName); err != nil {
		ex.log.Warn("cancel-all failed during partial recovery", utils.String("instrument", leg.InstrumentName), utils.Err(err))
	}
	return models.LegOutcome{
		InstrumentName: leg.InstrumentName,
		Side:           leg.Side,
		State:          string(StateRecover),
		FilledQuantity: filled,
		FilledValue:    value,
		ErrorKind:      models.ErrorKindPartial,
	}, legProceeds(leg, filled, value), false
}

// priceAndQuantity рассчитывает цену ноги по дальней стороне стакана и
// количество, округлённое вниз до точности инструмента (spec §8
// invariant 3), возвращая ошибку если результат ниже MinQuantity.
func (ex *Executor) priceAndQuantity(leg models.CycleLeg, quote models.Quote, heldQuantity decimal.Decimal) (price, quantity decimal.Decimal, err error) {
	switch leg.Side {
	case models.SideBuy:
		price = decimalutil.RoundUpPrice(quote.Ask, leg.PriceDecimals)
		if price.IsZero() {
			return decimal.Zero, decimal.Zero, errZeroPrice
		}
		quantity = decimalutil.RoundDownTo(heldQuantity.Div(price), leg.QuantityDecimals)
	case models.SideSell:
		price = decimalutil.RoundDownPrice(quote.Bid, leg.PriceDecimals)
		quantity = decimalutil.RoundDownTo(heldQuantity, leg.QuantityDecimals)
	}

	if quantity.LessThan(leg.MinQuantity) {
		return price, quantity, errUndersized
	}
	return price, quantity, nil
}

// legProceeds возвращает количество актива, удерживаемого после ноги:
// для BUY это заполненное количество базовой валюты, для SELL - стоимость
// в котируемой валюте.
func legProceeds(leg models.CycleLeg, filledQuantity, filledValue decimal.Decimal) decimal.Decimal {
	if leg.Side == models.SideBuy {
		return filledQuantity
	}
	return filledValue
}

// legConsumed returns how much of the pre-leg heldQuantity was actually
// spent placing this leg's order: for BUY that is the quote value filled,
// for SELL the base quantity filled. heldQuantity minus this is the
// untraded remainder left stranded by a cancelled/expired order.
func legConsumed(leg models.CycleLeg, filledQuantity, filledValue decimal.Decimal) decimal.Decimal {
	if leg.Side == models.SideBuy {
		return filledValue
	}
	return filledQuantity
}

// legHeldAsset identifies the instrument whose resting balance is stranded
// when a leg aborts or only partially fills. The residual position stores
// this instrument name as its Asset as is; it is not resolved to a currency.
func legHeldAsset(leg models.CycleLeg) string {
	return leg.InstrumentName
}

func pendingTimerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
