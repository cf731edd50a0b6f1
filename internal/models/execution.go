package models

import (
	"sync"

	"github.com/shopspring/decimal"
)

// StartingBalance - отображение валюта -> баланс, фиксированное при
// старте процесса. Используется только для расчёта размера первой ноги.
type StartingBalance map[string]decimal.Decimal

// ExecutionSlot - мьютекс-разрешение на торговлю циклами одной стартовой
// валюты. Ровно один цикл на стартовую валюту может находиться в
// состоянии Working одновременно; попытка занять занятый слот не
// блокируется, а сразу отклоняется (см. spec §4.5, §5).
type ExecutionSlot struct {
	mu     sync.Mutex
	busy   bool
}

// TryAcquire пытается занять слот без блокировки. Возвращает true при
// успехе; вызывающий обязан вызвать Release после завершения цикла.
func (s *ExecutionSlot) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// Release освобождает слот. Идемпотентен.
func (s *ExecutionSlot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

// Busy возвращает текущее состояние слота (для метрик/диагностики).
func (s *ExecutionSlot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// ExecutionSlots - набор слотов по стартовой валюте, создаётся один раз
// Supervisor'ом и раздаётся Evaluator'ам и Executor'ам по ссылке.
type ExecutionSlots struct {
	mu    sync.Mutex
	slots map[string]*ExecutionSlot
}

// NewExecutionSlots создаёт пустой набор слотов.
func NewExecutionSlots() *ExecutionSlots {
	return &ExecutionSlots{slots: make(map[string]*ExecutionSlot)}
}

// Slot возвращает слот для стартовой валюты, создавая его при первом
// обращении. Безопасен для конкурентного вызова.
func (s *ExecutionSlots) Slot(startingCurrency string) *ExecutionSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[startingCurrency]
	if !ok {
		slot = &ExecutionSlot{}
		s.slots[startingCurrency] = slot
	}
	return slot
}
