// Package evaluator реализует оценку цикла: по свежей котировке
// вычисляет гипотетический выход, сравнивает его с GAIN_THRESHOLD и,
// если порог пройден и слот стартовой валюты свободен, передаёт цикл
// Исполнителю (spec §4.5).
package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"triarbiter/internal/metrics"
	"triarbiter/internal/models"
	"triarbiter/internal/quotestore"
	"triarbiter/pkg/utils"
)

// Result - итог оценки одного цикла на одном снимке котировок.
type Result struct {
	Cycle         models.ArbitrageCycle
	Gain          decimal.Decimal
	AboveThreshold bool
	Skipped       bool
	SkipReason    string
}

// Evaluator оценивает набор циклов по котировкам из общего Store.
// Сам Evaluator не хранит состояние между тиками - гейн пересчитывается
// заново на каждом снимке (spec §8 invariant 4: "gain idempotence").
type Evaluator struct {
	store         *quotestore.Store
	slots         *models.ExecutionSlots
	gainThreshold decimal.Decimal
	tradingFee    decimal.Decimal
	researchMode  bool

	log *utils.Logger
}

// New создаёт Evaluator поверх общего Store и набора слотов.
func New(store *quotestore.Store, slots *models.ExecutionSlots, gainThreshold, tradingFee decimal.Decimal, researchMode bool) *Evaluator {
	return &Evaluator{
		store:         store,
		slots:         slots,
		gainThreshold: gainThreshold,
		tradingFee:    tradingFee,
		researchMode:  researchMode,
		log:           utils.L().WithComponent("evaluator"),
	}
}

// Evaluate вычисляет гейн цикла на текущем снимке котировок. Не требует
// котировки свежее какого-либо порога - устаревание отслеживается
// отдельно метрикой quote_staleness_ms (SPEC_FULL.md §4.9).
func (e *Evaluator) Evaluate(cycle models.ArbitrageCycle) Result {
	quotes, ok := e.store.Snapshot(cycle.Instruments)
	if !ok {
		return Result{Cycle: cycle, Skipped: true, SkipReason: "missing quote"}
	}

	now := time.Now()
	var staleness time.Duration
	gain := decimal.NewFromInt(1)
	for i, leg := range cycle.Legs {
		q := quotes[i]
		if age := q.Age(now); age > staleness {
			staleness = age
		}
		var rate decimal.Decimal
		switch leg.Side {
		case models.SideSell:
			rate = q.Bid
		case models.SideBuy:
			if q.Ask.IsZero() {
				return Result{Cycle: cycle, Skipped: true, SkipReason: "zero ask"}
			}
			rate = decimal.NewFromInt(1).Div(q.Ask)
		}
		gain = gain.Mul(rate).Mul(e.tradingFee)
	}

	gainFloat, _ := gain.Float64()
	aboveThreshold := gain.GreaterThan(e.gainThreshold)
	metrics.RecordEvaluation(cycle.StartingCurrency, gainFloat, float64(staleness.Milliseconds()), aboveThreshold)

	return Result{
		Cycle:          cycle,
		Gain:           gain,
		AboveThreshold: aboveThreshold,
	}
}

// ShouldExecute решает, передаётся ли прошедший порог цикл Исполнителю:
// гейн должен превышать порог, RESEARCH_MODE должен быть выключен, а
// слот стартовой валюты - свободен (spec §8 invariant 5 и 6). Возвращает
// занятый слот при успехе - вызывающий обязан его освободить.
func (e *Evaluator) ShouldExecute(result Result) (*models.ExecutionSlot, bool) {
	if result.Skipped || !result.AboveThreshold {
		return nil, false
	}
	if e.researchMode {
		e.log.Info("research mode: cycle above threshold, not executing",
			utils.String("cycle_id", result.Cycle.ID), utils.String("gain", result.Gain.String()))
		return nil, false
	}

	slot := e.slots.Slot(result.Cycle.StartingCurrency)
	if !slot.TryAcquire() {
		metrics.RecordSlotBusy(result.Cycle.StartingCurrency)
		return nil, false
	}
	return slot, true
}
