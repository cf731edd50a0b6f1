package models

import "github.com/shopspring/decimal"

// Instrument описывает одну торговую пару каталога биржи.
//
// Поля price_decimals/quantity_decimals задают точность округления
// цены и количества при составлении ордеров (см. ArbitrageCycle).
type Instrument struct {
	InstrumentName   string
	BaseCurrency     string
	QuoteCurrency    string
	PriceDecimals    int32
	QuantityDecimals int32
	MinQuantity      decimal.Decimal
	MaxQuantity      decimal.Decimal
	DayVolumeUSD     float64 // единственное поле с плавающей точкой: берётся как есть из тикера и используется только для фильтрации
}

// Symbol возвращает название пары в формате BASE_QUOTE, как оно приходит
// от биржи (instrument_name).
func (i Instrument) Symbol() string {
	return i.InstrumentName
}

// HasCurrency проверяет участвует ли валюта в паре как база или котировка.
func (i Instrument) HasCurrency(currency string) bool {
	return i.BaseCurrency == currency || i.QuoteCurrency == currency
}

// OtherLeg возвращает вторую валюту пары относительно известной.
func (i Instrument) OtherLeg(currency string) (string, bool) {
	switch currency {
	case i.BaseCurrency:
		return i.QuoteCurrency, true
	case i.QuoteCurrency:
		return i.BaseCurrency, true
	default:
		return "", false
	}
}
