package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote - лучшая цена спроса/предложения по инструменту с меткой времени.
//
// Инвариант: Bid <= Ask когда оба присутствуют. Котировки с меткой
// времени старше уже сохранённой отбрасываются (см. quotestore.Store.Update).
type Quote struct {
	InstrumentName string
	Bid            decimal.Decimal
	Ask            decimal.Decimal
	BidSize        decimal.Decimal
	AskSize        decimal.Decimal
	Timestamp      time.Time
}

// Valid проверяет базовую инвариантность котировки.
func (q Quote) Valid() bool {
	if q.Bid.IsZero() && q.Ask.IsZero() {
		return false
	}
	if !q.Bid.IsZero() && !q.Ask.IsZero() && q.Bid.GreaterThan(q.Ask) {
		return false
	}
	return true
}

// Age возвращает возраст котировки относительно переданного момента времени.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}
