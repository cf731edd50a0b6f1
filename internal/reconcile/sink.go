package reconcile

import (
	"context"
	"encoding/json"

	"triarbiter/internal/metrics"
	"triarbiter/internal/models"
	"triarbiter/pkg/utils"
)

// Sink реализует executor.ReconcileSink: записывает остатки и терминальные
// записи циклов в Postgres и публикует каждую терминальную запись цикла в
// RabbitMQ. Ошибки этих операций не прерывают исполнение цикла - они
// логируются и учитываются метрикой. Оба метода синхронны: RecordResidual
// Исполнитель вызывает по ходу цикла, Record - после его последней ноги.
type Sink struct {
	repo      *Repository
	publisher *Publisher
	log       *utils.Logger
}

// NewSink собирает Sink поверх уже открытых репозитория и издателя.
// Любой из двух может быть nil - соответствующая операция тогда
// ограничивается только логом (используется в RESEARCH_MODE, где ни БД,
// ни AMQP обычно не сконфигурированы).
func NewSink(repo *Repository, publisher *Publisher) *Sink {
	return &Sink{repo: repo, publisher: publisher, log: utils.L().WithComponent("reconcile")}
}

// Record персистит терминальную запись цикла и публикует её в очередь сверки.
func (s *Sink) Record(ctx context.Context, record models.ExecutedCycleRecord) {
	legsJSON, err := json.Marshal(record.Legs)
	if err != nil {
		s.log.Error("marshal cycle legs", utils.String("cycle_id", record.CycleID), utils.Err(err))
		return
	}

	if s.repo != nil {
		if err := s.repo.InsertCycleRecord(ctx, record, legsJSON); err != nil {
			s.log.Error("persist cycle record", utils.String("cycle_id", record.CycleID), utils.Err(err))
			metrics.RecordReconcileFailure("database")
		}
	}

	if s.publisher != nil {
		body, err := json.Marshal(record)
		if err != nil {
			s.log.Error("marshal cycle record", utils.String("cycle_id", record.CycleID), utils.Err(err))
			return
		}
		if err := s.publisher.PublishCycleRecord(ctx, body); err != nil {
			s.log.Error("publish cycle record", utils.String("cycle_id", record.CycleID), utils.Err(err))
			metrics.RecordReconcileFailure("amqp")
		}
	}
}

// RecordResidual персистит одну остаточную позицию.
func (s *Sink) RecordResidual(ctx context.Context, pos models.ResidualPosition) {
	if s.repo == nil {
		s.log.Warn("residual position dropped: no database configured",
			utils.String("cycle_id", pos.CycleID), utils.String("asset", pos.Asset), utils.String("quantity", pos.Quantity.String()))
		return
	}
	if err := s.repo.InsertResidual(ctx, pos); err != nil {
		s.log.Error("persist residual position", utils.String("cycle_id", pos.CycleID), utils.Err(err))
		metrics.RecordReconcileFailure("database")
	}
}
