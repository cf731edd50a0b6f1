package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleOutcome - терминальный исход выполнения цикла.
type CycleOutcome string

const (
	OutcomeCompleted CycleOutcome = "COMPLETED" // все три ноги исполнены
	OutcomeAborted   CycleOutcome = "ABORTED"   // цикл прерван на одной из трёх ног
)

// LegOutcome - результат выполнения одной ноги, попадает в ExecutedCycleRecord
// и в структурированный лог (см. spec §7 "per-leg outcome").
type LegOutcome struct {
	InstrumentName string
	Side           Side
	State          string // терминальное состояние конечного автомата ноги (см. internal/executor)
	FilledQuantity decimal.Decimal
	FilledValue    decimal.Decimal
	ErrorKind      ErrorKind // пусто если нога завершилась штатно
}

// ResidualPosition - непроторгованный остаток предыдущего баланса ноги:
// либо из-за прерывания цикла без заполнения, либо из-за частичного
// исполнения ноги, после которого цикл продолжается со сделанными
// проторгованными средствами (см. SPEC_FULL.md §4.8, spec §8 S5).
type ResidualPosition struct {
	CycleID    string
	LegIndex   int
	Asset      string
	Quantity   decimal.Decimal
	Reason     ErrorKind
	RecordedAt time.Time
}

// ExecutedCycleRecord - терминальная запись об исполнении цикла,
// публикуемая в очередь сверки и пишущаяся в структурированный лог.
type ExecutedCycleRecord struct {
	CycleID          string
	StartingCurrency string
	Legs             []LegOutcome
	GainEstimate     decimal.Decimal
	Outcome          CycleOutcome
	RealizedBalance  decimal.Decimal
	StartedAt        time.Time
	FinishedAt       time.Time
}
