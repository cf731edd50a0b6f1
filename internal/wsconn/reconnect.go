// Package wsconn реализует переиспользуемый WebSocket-клиент с
// автоматическим переподключением и экспоненциальным backoff -
// общий для Market Feed и User Feed клиентов (spec §4.3, §4.4).
package wsconn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"triarbiter/internal/metrics"
	"triarbiter/pkg/utils"
)

// Config управляет поведением переподключения.
type Config struct {
	InitialDelay   time.Duration // задержка перед первой попыткой переподключения
	MaxDelay       time.Duration // потолок экспоненциального роста
	MaxRetries     int           // 0 = переподключаться бесконечно
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultConfig - backoff 1s..30s, бесконечные попытки (spec §4.3:
// "reconnect with exponential backoff capped at 30s, forever").
func DefaultConfig() Config {
	return Config{
		InitialDelay:   1 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// State - состояние соединения.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Manager управляет одним WebSocket-соединением: подключение,
// чтение входящих кадров, ping/pong, переподписка и переподключение
// при разрыве. Используется как Market Feed, так и User Feed
// клиентами - авторизация и повторная отправка запросов различаются
// через callbacks, установленные вызывающим кодом.
type Manager struct {
	name   string
	url    string
	config Config

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex // одна запись в соединение за раз

	state      int32
	retryCount int32

	closeChan chan struct{}
	closeOnce sync.Once

	onMessage    func([]byte)
	onConnect    func(*websocket.Conn) error
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	log *utils.Logger
}

// New создаёт менеджер соединения с указанным именем (для логов) и URL.
// onConnect вызывается синхронно сразу после установки TCP/TLS-соединения,
// перед тем как запускаются read/ping горутины - именно там вызывающий
// код выполняет аутентификацию и переподписку (spec §4.3 resubscribe-after-reconnect).
func New(name, url string, config Config, onMessage func([]byte), onConnect func(*websocket.Conn) error, onDisconnect func(error)) *Manager {
	return &Manager{
		name:         name,
		url:          url,
		config:       config,
		closeChan:    make(chan struct{}),
		onMessage:    onMessage,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		log:          utils.L().WithComponent("wsconn").WithExchange(name),
	}
}

// State возвращает текущее состояние соединения.
func (m *Manager) State() State {
	return State(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect устанавливает соединение и запускает read/ping горутины.
// При ошибке первого подключения не запускает переподключение - это
// решение оставлено вызывающему коду (bootstrap-ошибка при старте
// обычно фатальна, а разрыв уже установленного соединения - нет).
func (m *Manager) Connect() error {
	select {
	case <-m.closeChan:
		return fmt.Errorf("wsconn %s: manager is closed", m.name)
	default:
	}

	atomic.StoreInt32(&m.state, int32(StateConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(StateDisconnected))
		return err
	}

	atomic.StoreInt32(&m.state, int32(StateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	go m.readPump()
	go m.pingPump()

	metrics.UpdateFeedStatus(m.name, true)
	m.log.Info("websocket connected", utils.String("url", m.url))
	return nil
}

func (m *Manager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("wsconn %s: dial: %w", m.name, err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			conn.Close()
			m.connMu.Lock()
			m.conn = nil
			m.connMu.Unlock()
			return fmt.Errorf("wsconn %s: onConnect: %w", m.name, err)
		}
	}

	return nil
}

func (m *Manager) readPump() {
	defer m.handleDisconnect(nil)

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (m *Manager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()
			if conn == nil || m.State() != StateConnected {
				return
			}

			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				m.log.Warn("ping failed", utils.Err(err))
				m.handleDisconnect(err)
				return
			}
		}
	}
}

func (m *Manager) handleDisconnect(err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	state := m.State()
	if state == StateReconnecting || state == StateClosed {
		return
	}
	atomic.StoreInt32(&m.state, int32(StateReconnecting))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	metrics.UpdateFeedStatus(m.name, false)

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}
	if err != nil {
		m.log.Warn("websocket disconnected", utils.Err(err))
	}

	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&m.retryCount, 1)
		if m.config.MaxRetries > 0 && int(retryCount) > m.config.MaxRetries {
			m.log.Error("max reconnect attempts reached", utils.Int("max_retries", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(StateDisconnected))
			return
		}

		m.log.Info("reconnecting", utils.String("delay", delay.String()), utils.Int("attempt", int(retryCount)))
		metrics.RecordFeedReconnect(m.name)

		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		if err := m.dial(); err != nil {
			m.log.Warn("reconnect attempt failed", utils.Err(err))
			delay *= 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&m.state, int32(StateConnected))
		atomic.StoreInt32(&m.retryCount, 0)
		metrics.UpdateFeedStatus(m.name, true)
		m.log.Info("websocket reconnected")

		go m.readPump()
		go m.pingPump()
		return
	}
}

// Send сериализует msg в JSON и отправляет его через текущее соединение.
func (m *Manager) Send(msg interface{}) error {
	if m.State() != StateConnected {
		return fmt.Errorf("wsconn %s: not connected (state: %s)", m.name, m.State())
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("wsconn %s: no connection", m.name)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// Close останавливает переподключение и закрывает текущее соединение.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.closeChan) })
	atomic.StoreInt32(&m.state, int32(StateClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

// RetryCount возвращает текущее число попыток переподключения.
func (m *Manager) RetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}
