// Package coordinator связывает Market Feed, Evaluator и Executor в
// один цикл: каждое обновление котировки, разосланное через dispatch
// bus, пересчитывает гейн всех циклов, затрагивающих обновившийся
// инструмент, и передаёт прошедшие порог циклы Исполнителю (spec §4.5).
package coordinator

import (
	"context"
	"sync"

	"triarbiter/internal/evaluator"
	"triarbiter/internal/executor"
	"triarbiter/internal/models"
	"triarbiter/pkg/utils"
)

// dispatchSource - подмножество marketfeed.Client, нужное Координатору.
type dispatchSource interface {
	Dispatch() (int, <-chan string)
	UnsubscribeDispatch(id int)
}

// Coordinator подписывается на dispatch bus Market Feed и прогоняет
// каждое затронутое обновлением котировки цикл через Evaluator, запуская
// Исполнителя на циклах, прошедших порог (spec §4.5, §4.6).
type Coordinator struct {
	dispatch dispatchSource
	eval     *evaluator.Evaluator
	exec     *executor.Executor

	startingBalances models.StartingBalance

	byInstrument map[string][]models.ArbitrageCycle

	log *utils.Logger
}

// New строит индекс инструмент -> затрагиваемые циклы и возвращает
// готовый к запуску Координатор. cycles - полный список построенных
// на старте циклов (catalog.BuildCycles).
func New(dispatch dispatchSource, eval *evaluator.Evaluator, exec *executor.Executor, startingBalances models.StartingBalance, cycles []models.ArbitrageCycle) *Coordinator {
	byInstrument := make(map[string][]models.ArbitrageCycle)
	for _, cycle := range cycles {
		for instrumentName := range cycle.InstrumentSet() {
			byInstrument[instrumentName] = append(byInstrument[instrumentName], cycle)
		}
	}
	return &Coordinator{
		dispatch:         dispatch,
		eval:             eval,
		exec:             exec,
		startingBalances: startingBalances,
		byInstrument:     byInstrument,
		log:              utils.L().WithComponent("coordinator"),
	}
}

// Run подписывается на dispatch bus и блокируется до отмены ctx. Каждое
// обновление котировки обрабатывается в своей горутине - оценка и
// (при прохождении порога) исполнение одного цикла не должны задерживать
// обработку обновлений по другим инструментам.
func (c *Coordinator) Run(ctx context.Context) {
	id, updates := c.dispatch.Dispatch()
	defer c.dispatch.UnsubscribeDispatch(id)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case instrumentName, open := <-updates:
			if !open {
				return
			}
			for _, cycle := range c.byInstrument[instrumentName] {
				wg.Add(1)
				go func(cycle models.ArbitrageCycle) {
					defer wg.Done()
					c.evaluateAndMaybeExecute(ctx, cycle)
				}(cycle)
			}
		}
	}
}

func (c *Coordinator) evaluateAndMaybeExecute(ctx context.Context, cycle models.ArbitrageCycle) {
	result := c.eval.Evaluate(cycle)
	if result.Skipped {
		return
	}

	slot, ok := c.eval.ShouldExecute(result)
	if !ok {
		return
	}
	defer slot.Release()

	balance, ok := c.startingBalances[cycle.StartingCurrency]
	if !ok || balance.IsZero() {
		c.log.Warn("no starting balance configured", utils.String("starting_currency", cycle.StartingCurrency))
		return
	}

	record := c.exec.Execute(ctx, cycle, balance)
	c.log.Info("cycle execution finished",
		utils.String("cycle_id", cycle.ID),
		utils.String("outcome", string(record.Outcome)),
		utils.String("gain_estimate", result.Gain.String()),
		utils.String("realized_balance", record.RealizedBalance.String()),
	)
}
