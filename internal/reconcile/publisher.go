package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"triarbiter/pkg/utils"
)

const executedCyclesQueue = "triarbiter.executed_cycles"

// Publisher отправляет терминальные записи цикла в очередь сверки, читаемую
// офлайн-аналитикой и бухгалтерским учётом остатков.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     *utils.Logger
}

// NewPublisher подключается к RabbitMQ и объявляет очередь записей цикла.
func NewPublisher(amqpURL string) (*Publisher, error) {
	conn, err := amqp091.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("reconcile: dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reconcile: open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(executedCyclesQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("reconcile: declare queue %s: %w", executedCyclesQueue, err)
	}

	return &Publisher{conn: conn, channel: ch, log: utils.L().WithComponent("reconcile-publisher")}, nil
}

// PublishCycleRecord публикует JSON-представление терминальной записи цикла.
func (p *Publisher) PublishCycleRecord(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.channel.PublishWithContext(ctx, "", executedCyclesQueue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
