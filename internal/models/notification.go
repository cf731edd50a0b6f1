package models

import "time"

// Notification представляет уведомление о событии исполнения цикла.
type Notification struct {
	ID        int                    `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"` // CYCLE_COMPLETED, CYCLE_ABORTED, EXCHANGE_REJECT, UNDERSIZED, RECONCILE_WRITE_FAILED
	Severity  string                 `json:"severity"`
	CycleID   string                 `json:"cycle_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Типы уведомлений
const (
	NotificationTypeCycleCompleted   = "CYCLE_COMPLETED"
	NotificationTypeCycleAborted     = "CYCLE_ABORTED"
	NotificationTypeExchangeReject   = "EXCHANGE_REJECT"
	NotificationTypeUndersized       = "UNDERSIZED"
	NotificationTypeReconcileWriteFailed = "RECONCILE_WRITE_FAILED"
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
