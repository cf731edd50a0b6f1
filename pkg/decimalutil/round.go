// Package decimalutil собирает округление и прочую арифметику над
// github.com/shopspring/decimal, которой пользуется исполнитель при
// расчёте цены и количества ноги. Вся денежная математика системы работает
// только через decimal.Decimal - с плавающей точкой работает лишь
// суточный объём тикера, используемый исключительно для фильтрации.
package decimalutil

import "github.com/shopspring/decimal"

// RoundDownTo округляет значение вниз (к нулю) до указанного числа
// знаков после запятой. Используется для количества заявки: итоговая
// сумма никогда не должна превышать удерживаемый баланс (spec §3).
func RoundDownTo(value decimal.Decimal, decimals int32) decimal.Decimal {
	return value.Truncate(decimals)
}

// RoundUpTo округляет значение вверх до указанного числа знаков после
// запятой. Используется для цены BUY-заявки (round ask up).
func RoundUpTo(value decimal.Decimal, decimals int32) decimal.Decimal {
	truncated := value.Truncate(decimals)
	if truncated.Equal(value) {
		return truncated
	}
	step := decimal.New(1, -decimals)
	return truncated.Add(step)
}

// RoundDownPrice округляет цену SELL-заявки вниз (round bid down).
func RoundDownPrice(value decimal.Decimal, decimals int32) decimal.Decimal {
	return RoundDownTo(value, decimals)
}

// RoundUpPrice округляет цену BUY-заявки вверх (round ask up).
func RoundUpPrice(value decimal.Decimal, decimals int32) decimal.Decimal {
	return RoundUpTo(value, decimals)
}
