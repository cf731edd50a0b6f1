// Package marketfeed реализует публичный websocket-клиент биржи:
// подписку на тикеры инструментов, запись последних котировок в
// internal/quotestore и рассылку инструментов через dispatch bus для
// Оценщиков (spec §4.2, §4.3).
package marketfeed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"triarbiter/internal/broadcast"
	"triarbiter/internal/models"
	"triarbiter/internal/quotestore"
	"triarbiter/internal/wsconn"
	"triarbiter/pkg/utils"
)

// defaultSubscribeBatchSize bounds how many ticker channels go in one
// subscribe request when the caller does not set SubscribeBatchSize -
// the exchange imposes a per-request channel cap (spec §4.3).
const defaultSubscribeBatchSize = 100

// Config параметры Market Feed клиента (spec §5: MARKET_* capacities).
type Config struct {
	URL                string
	DispatchCapacity   int // MARKET_BROADCAST_DISPATCH_CAPACITY, default 32
	SubscribeBatchSize int // per-request channel cap, default 100
	ReconnectConfig    wsconn.Config
}

// Client - публичный websocket-клиент: один писатель в quotestore.Store,
// рассылающий имена обновлённых инструментов через Dispatch bus.
type Client struct {
	cfg   Config
	conn  *wsconn.Manager
	store *quotestore.Store

	dispatch *broadcast.Bus[string]

	subsMu      sync.Mutex
	instruments map[string]struct{}

	idCounter int64

	log *utils.Logger
}

// New создаёт Market Feed клиент, пишущий котировки в store.
func New(cfg Config, store *quotestore.Store) *Client {
	if cfg.DispatchCapacity <= 0 {
		cfg.DispatchCapacity = 32
	}
	if cfg.SubscribeBatchSize <= 0 {
		cfg.SubscribeBatchSize = defaultSubscribeBatchSize
	}
	c := &Client{
		cfg:         cfg,
		store:       store,
		dispatch:    broadcast.New[string]("market-dispatch", cfg.DispatchCapacity),
		instruments: make(map[string]struct{}),
		log:         utils.L().WithComponent("marketfeed"),
	}
	reconnCfg := cfg.ReconnectConfig
	if reconnCfg == (wsconn.Config{}) {
		reconnCfg = wsconn.DefaultConfig()
	}
	c.conn = wsconn.New("market-feed", cfg.URL, reconnCfg, c.handleMessage, c.onConnect, c.onDisconnect)
	return c
}

// Connect устанавливает соединение. instrumentNames - изначальный набор
// инструментов для подписки (обычно все инструменты, участвующие хотя
// бы в одном построенном цикле, per spec §4.1 get_chains output).
func (c *Client) Connect(ctx context.Context, instrumentNames []string) error {
	c.subsMu.Lock()
	for _, name := range instrumentNames {
		c.instruments[name] = struct{}{}
	}
	c.subsMu.Unlock()

	if err := c.conn.Connect(); err != nil {
		return models.WrapKindError(models.ErrorKindTransport, "market feed connect", err)
	}
	return nil
}

// Close останавливает клиент.
func (c *Client) Close() error { return c.conn.Close() }

// Dispatch возвращает канал, в который публикуется имя инструмента
// каждый раз, когда его котировка обновляется - Оценщики подписываются
// и пересчитывают циклы, затрагивающие этот инструмент.
func (c *Client) Dispatch() (int, <-chan string) {
	return c.dispatch.Subscribe()
}

func (c *Client) UnsubscribeDispatch(id int) { c.dispatch.Unsubscribe(id) }

func (c *Client) nextID() int64 { return atomic.AddInt64(&c.idCounter, 1) }

// onConnect (пере)подписывается на каналы всех известных инструментов -
// выполняется как на первом подключении, так и после каждого
// переподключения (spec §4.3 "resubscribe after reconnect"). Каналы
// режутся на пачки не больше SubscribeBatchSize (лимит биржи на число
// каналов в одном запросе); пачки отправляются последовательно, каждая
// дожидается своего subscribe-ack, прежде чем уходит следующая (spec
// §4.3 "batches are sent serially and each awaits a subscribe-ack").
func (c *Client) onConnect(conn *websocket.Conn) error {
	c.subsMu.Lock()
	channels := make([]interface{}, 0, len(c.instruments))
	for name := range c.instruments {
		channels = append(channels, tickerChannel(name))
	}
	c.subsMu.Unlock()

	if len(channels) == 0 {
		return nil
	}

	batchSize := c.cfg.SubscribeBatchSize
	for start := 0; start < len(channels); start += batchSize {
		end := start + batchSize
		if end > len(channels) {
			end = len(channels)
		}
		if err := c.subscribeBatch(conn, channels[start:end]); err != nil {
			return err
		}
	}
	c.log.Info("market feed subscribed", utils.Int("instruments", len(channels)), utils.Int("batch_size", batchSize))
	return nil
}

// subscribeBatch sends one subscribe request and blocks on conn for the
// matching ack before returning - readPump has not started yet at this
// point in the connection lifecycle, so it is safe (and necessary) to read
// directly here. Frames unrelated to this batch's ack (heartbeats, ticker
// pushes from an already-acked earlier batch) are handled inline instead
// of being dropped.
func (c *Client) subscribeBatch(conn *websocket.Conn, channels []interface{}) error {
	id := c.nextID()
	req := subscribeRequest{
		ID:     id,
		Method: methodSubscribe,
		Nonce:  time.Now().UnixMilli(),
		Params: map[string]interface{}{"channels": channels},
	}
	if err := conn.WriteJSON(req); err != nil {
		return models.WrapKindError(models.ErrorKindTransport, "subscribe ticker channels", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return models.WrapKindError(models.ErrorKindTransport, "await subscribe ack", err)
		}

		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			c.log.Warn("market feed: malformed message while awaiting subscribe ack", utils.Err(jsonErr))
			continue
		}

		if env.ID != id {
			c.handlePreConnectMessage(conn, env, raw)
			continue
		}
		if !env.ok() {
			return &models.KindError{Kind: models.ErrorKindTransport, Message: "subscribe rejected by exchange", Code: env.Code.String()}
		}
		return nil
	}
}

// handlePreConnectMessage processes a frame observed while subscribeBatch
// blocks on an ack. Heartbeats must be answered directly on conn because
// the Manager has not yet marked the connection Connected, so c.conn.Send
// would refuse the write; everything else goes through handleMessage.
func (c *Client) handlePreConnectMessage(conn *websocket.Conn, env envelope, raw []byte) {
	if env.Method == methodHeartbeat {
		if err := conn.WriteJSON(map[string]interface{}{"id": env.ID, "method": methodRespondHB}); err != nil {
			c.log.Warn("market feed: heartbeat reply failed during handshake", utils.Err(err))
		}
		return
	}
	c.handleMessage(raw)
}

func (c *Client) onDisconnect(err error) {
	if err != nil {
		c.log.Warn("market feed disconnected", utils.Err(err))
	}
}

func (c *Client) handleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("market feed: malformed message", utils.Err(err))
		return
	}

	switch env.Method {
	case methodHeartbeat:
		_ = c.conn.Send(map[string]interface{}{"id": env.ID, "method": methodRespondHB})
	case methodSubscribe:
		var result tickerResult
		if err := json.Unmarshal(env.Result, &result); err != nil {
			c.log.Warn("market feed: malformed subscribe result", utils.Err(err))
			return
		}
		if result.Channel != channelTicker || len(result.Data) == 0 {
			return
		}
		c.applyTicker(result.InstrumentName, result.Data[0])
	}
}

func (c *Client) applyTicker(instrumentName string, dto tickerDTO) {
	bid, err := decimal.NewFromString(dto.Bid)
	if err != nil {
		c.log.Warn("market feed: malformed bid", utils.Err(err))
		return
	}
	ask, err := decimal.NewFromString(dto.Ask)
	if err != nil {
		c.log.Warn("market feed: malformed ask", utils.Err(err))
		return
	}

	q := models.Quote{
		InstrumentName: instrumentName,
		Bid:            bid,
		Ask:            ask,
		Timestamp:      time.UnixMilli(dto.Timestamp),
	}
	c.store.Update(q)
	c.dispatch.Publish(instrumentName)
}
