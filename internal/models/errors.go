package models

import "fmt"

// ErrorKind классифицирует ошибки исполнения по таксономии §7.
type ErrorKind string

const (
	ErrorKindBootstrap      ErrorKind = "BOOTSTRAP"
	ErrorKindAuth           ErrorKind = "AUTH"
	ErrorKindTransport      ErrorKind = "TRANSPORT"
	ErrorKindExchangeReject ErrorKind = "EXCHANGE_REJECT"
	ErrorKindTimeout        ErrorKind = "TIMEOUT"
	ErrorKindPartial        ErrorKind = "PARTIAL"
	ErrorKindUndersized     ErrorKind = "UNDERSIZED"
	ErrorKindSkipped        ErrorKind = "SKIPPED"
)

// KindError - типизированная ошибка, позволяющая верхним слоям
// различать категории через errors.As без парсинга текста сообщения.
type KindError struct {
	Kind    ErrorKind
	Message string
	Code    string // код, присланный биржей, для EXCHANGE_REJECT
	Cause   error
}

func (e *KindError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code=%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KindError) Unwrap() error {
	return e.Cause
}

func NewKindError(kind ErrorKind, message string) *KindError {
	return &KindError{Kind: kind, Message: message}
}

func WrapKindError(kind ErrorKind, message string, cause error) *KindError {
	return &KindError{Kind: kind, Message: message, Cause: cause}
}

func ExchangeRejectError(code, message string) *KindError {
	return &KindError{Kind: ErrorKindExchangeReject, Message: message, Code: code}
}
