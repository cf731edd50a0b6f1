// Package metrics экспортирует Prometheus-метрики исполнителя
// треугольного арбитража (SPEC_FULL.md §4.9).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Оценка циклов ============

// CycleGainRatio - распределение гейна, посчитанного Evaluator'ом, по
// каждому оценённому циклу, независимо от того, прошёл ли он порог.
var CycleGainRatio = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "triarbiter",
		Subsystem: "evaluator",
		Name:      "cycle_gain_ratio",
		Help:      "Distribution of evaluated cycle gain ratios",
		Buckets:   []float64{0.990, 0.995, 0.999, 1.0, 1.001, 1.002, 1.005, 1.01, 1.02},
	},
	[]string{"starting_currency"},
)

// QuoteStalenessMs - возраст самой старой котировки цикла на момент
// оценки, в миллисекундах.
var QuoteStalenessMs = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "triarbiter",
		Subsystem: "evaluator",
		Name:      "quote_staleness_ms",
		Help:      "Age in milliseconds of the oldest quote backing an evaluated cycle",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"starting_currency"},
)

// OpportunitiesAboveThreshold - число циклов, прошедших GAIN_THRESHOLD.
var OpportunitiesAboveThreshold = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarbiter",
		Subsystem: "evaluator",
		Name:      "opportunities_above_threshold_total",
		Help:      "Number of cycles whose evaluated gain crossed GAIN_THRESHOLD",
	},
	[]string{"starting_currency"},
)

// ============ Исполнение ============

// LegOutcomeTotal - терминальный исход каждой исполненной ноги, по
// ErrorKind (пусто = успешное заполнение).
var LegOutcomeTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarbiter",
		Subsystem: "executor",
		Name:      "leg_outcome_total",
		Help:      "Terminal outcomes of individual leg executions by error kind",
	},
	[]string{"instrument", "error_kind"},
)

// CycleExecutionLatencyMs - время от первой ноги до терминальной записи цикла.
var CycleExecutionLatencyMs = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "triarbiter",
		Subsystem: "executor",
		Name:      "cycle_execution_latency_ms",
		Help:      "Time from leg 1 submission to the cycle's terminal record, in milliseconds",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 3000, 5000, 10000, 30000},
	},
	[]string{"outcome"},
)

// ExecutionSlotBusyTotal - число отказов занять слот стартовой валюты,
// потому что он уже занят другим циклом (spec §4.5 взаимное исключение).
var ExecutionSlotBusyTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarbiter",
		Subsystem: "evaluator",
		Name:      "execution_slot_busy_total",
		Help:      "Number of times a passing cycle was skipped because its starting-currency slot was already busy",
	},
	[]string{"starting_currency"},
)

// ResidualPositionsTotal - число зафиксированных остаточных позиций.
var ResidualPositionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarbiter",
		Subsystem: "executor",
		Name:      "residual_positions_total",
		Help:      "Number of residual positions recorded after partial fills or aborts",
	},
	[]string{"reason"},
)

// ============ Соединения ============

// FeedConnectionStatus - статус websocket-соединений (1=connected, 0=иначе).
var FeedConnectionStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "triarbiter",
		Subsystem: "feed",
		Name:      "connection_status",
		Help:      "Websocket feed connection status (1=connected, 0=disconnected)",
	},
	[]string{"feed"}, // market, user
)

// FeedReconnectsTotal - число переподключений фида.
var FeedReconnectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarbiter",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Number of reconnect attempts performed by a feed's connection manager",
	},
	[]string{"feed"},
)

// ============ Сверка ============

// ReconcileWriteFailuresTotal - число неудачных попыток записать остаток
// в БД или опубликовать запись в очередь сверки.
var ReconcileWriteFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "triarbiter",
		Subsystem: "reconcile",
		Name:      "write_failures_total",
		Help:      "Number of failed reconciliation writes or publishes",
	},
	[]string{"sink"}, // database, amqp
)

// ============ Вспомогательные функции ============

// RecordEvaluation записывает гейн и возраст котировок одной оценки цикла.
func RecordEvaluation(startingCurrency string, gain float64, staleness float64, aboveThreshold bool) {
	CycleGainRatio.WithLabelValues(startingCurrency).Observe(gain)
	QuoteStalenessMs.WithLabelValues(startingCurrency).Observe(staleness)
	if aboveThreshold {
		OpportunitiesAboveThreshold.WithLabelValues(startingCurrency).Inc()
	}
}

// RecordSlotBusy записывает отказ от занятия занятого слота.
func RecordSlotBusy(startingCurrency string) {
	ExecutionSlotBusyTotal.WithLabelValues(startingCurrency).Inc()
}

// RecordLegOutcome записывает терминальный исход одной ноги.
func RecordLegOutcome(instrument, errorKind string) {
	LegOutcomeTotal.WithLabelValues(instrument, errorKind).Inc()
}

// RecordCycleLatency записывает время выполнения цикла по исходу.
func RecordCycleLatency(outcome string, latencyMs float64) {
	CycleExecutionLatencyMs.WithLabelValues(outcome).Observe(latencyMs)
}

// RecordResidual записывает факт фиксации остаточной позиции.
func RecordResidual(reason string) {
	ResidualPositionsTotal.WithLabelValues(reason).Inc()
}

// UpdateFeedStatus обновляет статус соединения фида.
func UpdateFeedStatus(feed string, connected bool) {
	if connected {
		FeedConnectionStatus.WithLabelValues(feed).Set(1)
	} else {
		FeedConnectionStatus.WithLabelValues(feed).Set(0)
	}
}

// RecordFeedReconnect записывает попытку переподключения фида.
func RecordFeedReconnect(feed string) {
	FeedReconnectsTotal.WithLabelValues(feed).Inc()
}

// RecordReconcileFailure записывает неудачную попытку сверки.
func RecordReconcileFailure(sink string) {
	ReconcileWriteFailuresTotal.WithLabelValues(sink).Inc()
}
