package models

import "github.com/shopspring/decimal"

// Side задаёт направление сделки по ноге цикла.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CycleLeg - одна нога треугольного цикла: инструмент, сторона сделки
// и точность количества для округления заявки.
type CycleLeg struct {
	InstrumentName   string
	Side             Side
	QuantityDecimals int32
	PriceDecimals    int32
	MinQuantity      decimal.Decimal
}

// ArbitrageCycle - треугольный цикл C -> A -> B -> C.
//
// Инвариант: последовательность активов образует замкнутый путь ровно
// из трёх различных инструментов; для каждой ноги если удерживаемый
// актив равен котируемой валюте инструмента - сторона BUY, иначе SELL.
type ArbitrageCycle struct {
	ID                string
	StartingCurrency  string
	Legs              [3]CycleLeg
	// Instruments - имена инструментов, задействованных в цикле, в порядке ног.
	// Дублирует Legs[i].InstrumentName для быстрого доступа при построении snapshot.
	Instruments [3]string
}

// InstrumentSet возвращает множество уникальных инструментов цикла.
func (c ArbitrageCycle) InstrumentSet() map[string]struct{} {
	set := make(map[string]struct{}, 3)
	for _, name := range c.Instruments {
		set[name] = struct{}{}
	}
	return set
}
