// Package reconcile персистит остаточные позиции и публикует терминальные
// записи циклов для сверки вне процесса (SPEC_FULL.md §4.8).
package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"

	"triarbiter/internal/models"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// Repository пишет остаточные позиции в Postgres. Остатки живут дольше
// процесса исполнителя - их разбирает отдельный офлайн-инструмент сверки,
// поэтому запись здесь обязана быть надёжной, но не обязана быть быстрой.
type Repository struct {
	db *sql.DB
}

// NewRepository открывает пул соединений к Postgres по DSN. Не проверяет
// соединение сразу - первая реальная операция (или Ping) обнаружит ошибку.
func NewRepository(dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("reconcile: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return &Repository{db: db}, nil
}

// Ping проверяет доступность базы данных.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает пул соединений.
func (r *Repository) Close() error {
	return r.db.Close()
}

// InsertResidual сохраняет остаточную позицию. Идемпотентность не
// гарантируется на уровне репозитория - вызывающий (Sink) пишет ровно
// один раз за событие.
func (r *Repository) InsertResidual(ctx context.Context, pos models.ResidualPosition) error {
	query := `
		INSERT INTO residual_positions (cycle_id, leg_index, asset, quantity, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		pos.CycleID,
		pos.LegIndex,
		pos.Asset,
		pos.Quantity.String(),
		string(pos.Reason),
		pos.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("reconcile: insert residual position: %w", err)
	}
	return nil
}

// InsertCycleRecord сохраняет терминальную запись цикла вместе со
// сводкой по ногам, закодированной в JSON-колонку legs.
func (r *Repository) InsertCycleRecord(ctx context.Context, record models.ExecutedCycleRecord, legsJSON []byte) error {
	query := `
		INSERT INTO executed_cycles (cycle_id, starting_currency, outcome, gain_estimate, realized_balance, legs, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		record.CycleID,
		record.StartingCurrency,
		string(record.Outcome),
		record.GainEstimate.String(),
		record.RealizedBalance.String(),
		legsJSON,
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("reconcile: insert cycle record: %w", err)
	}
	return nil
}

// OpenResidualsByAsset возвращает все непогашенные остаточные позиции
// по активу, старейшие первыми - используется офлайн-сверкой при ручном
// зачёте остатков против реального баланса на бирже.
func (r *Repository) OpenResidualsByAsset(ctx context.Context, asset string) ([]models.ResidualPosition, error) {
	query := `
		SELECT cycle_id, leg_index, asset, quantity, reason, recorded_at
		FROM residual_positions
		WHERE asset = $1
		ORDER BY recorded_at ASC`

	rows, err := r.db.QueryContext(ctx, query, asset)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query residual positions: %w", err)
	}
	defer rows.Close()

	var out []models.ResidualPosition
	for rows.Next() {
		var pos models.ResidualPosition
		var quantity, reason string
		if err := rows.Scan(&pos.CycleID, &pos.LegIndex, &pos.Asset, &quantity, &reason, &pos.RecordedAt); err != nil {
			return nil, fmt.Errorf("reconcile: scan residual position: %w", err)
		}
		pos.Reason = models.ErrorKind(reason)
		if pos.Quantity, err = decimalFromString(quantity); err != nil {
			return nil, fmt.Errorf("reconcile: parse residual quantity: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: iterate residual positions: %w", err)
	}
	return out, nil
}
