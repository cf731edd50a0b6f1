package models

import "github.com/shopspring/decimal"

// TimeInForce - политика времени жизни заявки.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GOOD_TILL_CANCEL"
	TimeInForceIOC TimeInForce = "IMMEDIATE_OR_CANCEL"
)

// OrderType - тип заявки. Исполнитель всегда использует лимитные заявки
// по дальней стороне стакана (see spec §4.6 Submitting).
const OrderType = "LIMIT"

// CreateOrderRequest - исходящая заявка на создание ордера.
type CreateOrderRequest struct {
	InstrumentName string
	Side           Side
	Type           string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	TimeInForce    TimeInForce
}

// CancelAllRequest - исходящий запрос на отмену всех заявок по инструменту.
type CancelAllRequest struct {
	InstrumentName string
}

// OrderStatus - статус жизненного цикла заявки, приходящий с user feed.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal возвращает true если статус окончательный (сделка на этом
// ордере больше не изменится).
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderState - входящее обновление состояния ордера с user feed.
type OrderState struct {
	OrderID            string
	InstrumentName     string
	Status             OrderStatus
	CumulativeQuantity decimal.Decimal
	CumulativeValue    decimal.Decimal
	AvgPrice           decimal.Decimal
	RejectCode         string
	RejectMessage      string
}
