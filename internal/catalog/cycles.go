package catalog

import (
	"math/rand"

	"triarbiter/internal/models"
)

// BuildCycles перечисляет все циклы треугольного арбитража
// C -> A -> B -> C для каждой стартовой валюты (spec §4.1). Перебор
// сделан самым прямым способом - эта часть программы не чувствительна
// к производительности и выполняется один раз при старте.
//
// approxFraction (0, 1] позволяет работать с частью всех построенных
// циклов: каждый завершённый цикл принимается со случайной
// вероятностью approxFraction. 1.0 отключает отбор.
func BuildCycles(instruments []models.Instrument, startingCurrencies []string, approxFraction float32) ([]models.ArbitrageCycle, []string) {
	byName := make(map[string]models.Instrument, len(instruments))
	for _, inst := range instruments {
		byName[inst.InstrumentName] = inst
	}

	var cycles []models.ArbitrageCycle
	touched := make(map[string]struct{})

	for _, start := range startingCurrencies {
		for _, first := range instruments {
			held, ok := first.OtherLeg(start)
			if !ok {
				continue
			}

			for _, second := range instruments {
				if second.InstrumentName == first.InstrumentName {
					continue
				}
				assetToAdd, ok := second.OtherLeg(held)
				if !ok {
					continue
				}

				thirdName := start + "_" + assetToAdd
				thirdNameRev := assetToAdd + "_" + start
				third, ok := byName[thirdName]
				if !ok {
					third, ok = byName[thirdNameRev]
				}
				if !ok || !third.HasCurrency(start) {
					continue
				}
				if third.InstrumentName == first.InstrumentName || third.InstrumentName == second.InstrumentName {
					continue
				}
				if approxFraction < 1 && rand.Float32() >= approxFraction {
					continue
				}

				legInstruments := [3]models.Instrument{first, second, third}
				heldBeforeLeg := [3]string{start, held, assetToAdd}

				var legs [3]models.CycleLeg
				for i, inst := range legInstruments {
					touched[inst.InstrumentName] = struct{}{}
					side := models.SideBuy
					if inst.BaseCurrency == heldBeforeLeg[i] {
						side = models.SideSell
					}
					legs[i] = models.CycleLeg{
						InstrumentName:   inst.InstrumentName,
						Side:             side,
						QuantityDecimals: inst.QuantityDecimals,
						PriceDecimals:    inst.PriceDecimals,
						MinQuantity:      inst.MinQuantity,
					}
				}

				cycles = append(cycles, models.ArbitrageCycle{
					ID:               start + ":" + first.InstrumentName + ">" + second.InstrumentName + ">" + third.InstrumentName,
					StartingCurrency: start,
					Legs:             legs,
					Instruments:      [3]string{first.InstrumentName, second.InstrumentName, third.InstrumentName},
				})
			}
		}
	}

	all := make([]string, 0, len(touched))
	for name := range touched {
		all = append(all, name)
	}
	return cycles, all
}
