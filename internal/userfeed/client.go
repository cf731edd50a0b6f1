// Package userfeed реализует приватный websocket-клиент биржи: аутентификация,
// создание/отмена ордеров и широковещание обновлений их статусов
// Исполнителю (spec §4.4).
package userfeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"triarbiter/internal/broadcast"
	"triarbiter/internal/models"
	"triarbiter/internal/wsconn"
	"triarbiter/pkg/utils"
)

// Config параметры User Feed клиента (spec §5: USER_* capacities).
type Config struct {
	URL               string
	APIKey            string
	SecretKey         string
	RequestCapacity   int // USER_MPSC_REQUEST_CAPACITY, default 10
	ResponseCapacity  int // USER_BROADCAST_RESPONSE_CAPACITY, default 2
	ReconnectConfig   wsconn.Config
}

// Client - приватный websocket-клиент. Держит единственное соединение;
// запросы (create-order, cancel-all) пишутся в него прямо из вызывающей
// горутины через wsconn.Manager.Send, который сериализует записи в
// соединение. Очереди запросов нет: RequestCapacity не используется.
type Client struct {
	cfg     Config
	conn    *wsconn.Manager
	updates *broadcast.Bus[models.OrderState]

	idCounter    int64
	nonceCounter int64

	log *utils.Logger
}

// New создаёт User Feed клиент. Connect должен быть вызван перед
// использованием CreateOrder/CancelAll.
func New(cfg Config) *Client {
	if cfg.RequestCapacity <= 0 {
		cfg.RequestCapacity = 10
	}
	if cfg.ResponseCapacity <= 0 {
		cfg.ResponseCapacity = 2
	}

	c := &Client{
		cfg:     cfg,
		updates: broadcast.New[models.OrderState]("user-feed", cfg.ResponseCapacity),
		log:     utils.L().WithComponent("userfeed"),
	}
	reconnCfg := cfg.ReconnectConfig
	if reconnCfg == (wsconn.Config{}) {
		reconnCfg = wsconn.DefaultConfig()
	}
	c.conn = wsconn.New("user-feed", cfg.URL, reconnCfg, c.handleMessage, c.onConnect, c.onDisconnect)
	return c
}

// Connect устанавливает соединение, аутентифицируется и подписывается
// на канал user.order. Ошибка аутентификации классифицируется как
// models.ErrorKindAuth - фатальная (spec §7); main.go завершает процесс
// ненулевым кодом при её получении.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(); err != nil {
		var kindErr *models.KindError
		if errors.As(err, &kindErr) {
			return kindErr
		}
		return models.WrapKindError(models.ErrorKindTransport, "user feed connect", err)
	}
	return nil
}

// Close останавливает клиент.
func (c *Client) Close() error { return c.conn.Close() }

// Subscribe возвращает канал обновлений статуса ордеров. Вызывающий
// (Исполнитель) сам фильтрует по instrument_name/order_id, так как
// шина несёт все обновления без разбора по подписчику (spec §9:
// id-keyed correlation поверх broadcast, а не per-request promises).
func (c *Client) Subscribe() (int, <-chan models.OrderState) {
	return c.updates.Subscribe()
}

func (c *Client) Unsubscribe(id int) { c.updates.Unsubscribe(id) }

func (c *Client) nextID() int64    { return atomic.AddInt64(&c.idCounter, 1) }
func (c *Client) nextNonce() int64 { return time.Now().UnixMilli() + atomic.AddInt64(&c.nonceCounter, 1) }

// onConnect выполняется синхронно внутри wsconn.Manager сразу после
// установки соединения, до запуска readPump - именно поэтому он может
// читать conn напрямую, дожидаясь ack на auth и только затем отправляя
// subscribe (spec §4.4: "send public/auth ... and await success. Then
// subscribe"). Ошибка аутентификации возвращается как models.ErrorKindAuth
// и доходит до Connect/main.go, где она фатальна.
func (c *Client) onConnect(conn *websocket.Conn) error {
	id := c.nextID()
	nonce := c.nextNonce()
	sig := signAuth(c.cfg.SecretKey, methodAuth, id, c.cfg.APIKey, nonce)

	if err := conn.WriteJSON(authRequest{ID: id, Method: methodAuth, APIKey: c.cfg.APIKey, Sig: sig, Nonce: nonce}); err != nil {
		return models.WrapKindError(models.ErrorKindAuth, "send auth", err)
	}
	if err := c.awaitAck(conn, id, methodAuth); err != nil {
		return err
	}

	subID := c.nextID()
	subNonce := c.nextNonce()
	sub := subscribeRequest{
		ID:     subID,
		Method: methodSubscribe,
		Nonce:  subNonce,
		Params: map[string]interface{}{"channels": []interface{}{channelUserOrder}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return models.WrapKindError(models.ErrorKindTransport, "subscribe user.order", err)
	}
	if err := c.awaitAck(conn, subID, methodSubscribe); err != nil {
		return err
	}

	c.log.Info("user feed authenticated and subscribed")
	return nil
}

// awaitAck blocks directly on conn until the response carrying requestID
// arrives, since readPump has not started yet at this point in the
// connection lifecycle. Any other frame seen while waiting - heartbeats,
// stale order updates from a fast reconnect - is handled inline rather than
// dropped.
func (c *Client) awaitAck(conn *websocket.Conn, requestID int64, method string) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			kind := models.ErrorKindTransport
			if method == methodAuth {
				kind = models.ErrorKindAuth
			}
			return models.WrapKindError(kind, "await "+method+" ack", err)
		}

		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			c.log.Warn("user feed: malformed message while awaiting ack", utils.Err(jsonErr))
			continue
		}

		if env.ID != requestID {
			c.handlePreConnectMessage(conn, env, raw)
			continue
		}
		if !env.ok() {
			kind := models.ErrorKindTransport
			if method == methodAuth {
				kind = models.ErrorKindAuth
			}
			return &models.KindError{Kind: kind, Message: method + " rejected by exchange", Code: env.Code.String()}
		}
		return nil
	}
}

// handlePreConnectMessage processes a frame observed while awaitAck blocks
// the handshake. Heartbeats must be answered directly on conn here because
// the Manager has not yet marked the connection Connected, so c.conn.Send
// would refuse the write; everything else goes through the normal
// handleMessage path.
func (c *Client) handlePreConnectMessage(conn *websocket.Conn, env envelope, raw []byte) {
	if env.Method == methodHeartbeat {
		if err := conn.WriteJSON(map[string]interface{}{"id": env.ID, "method": methodRespondHB}); err != nil {
			c.log.Warn("user feed: heartbeat reply failed during handshake", utils.Err(err))
		}
		return
	}
	c.handleMessage(raw)
}

func (c *Client) onDisconnect(err error) {
	if err != nil {
		c.log.Warn("user feed disconnected", utils.Err(err))
	}
}

func (c *Client) handleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("user feed: malformed message", utils.Err(err))
		return
	}

	switch env.Method {
	case methodAuth:
		// Normally consumed by awaitAck before readPump starts; logged here
		// only so a late/duplicate auth frame is never silently dropped.
		if !env.ok() {
			c.log.Warn("user feed: unexpected late auth rejection", utils.String("code", env.Code.String()))
			return
		}
		c.log.Debug("user feed: late auth ack observed after handshake")
	case methodHeartbeat:
		_ = c.conn.Send(map[string]interface{}{"id": env.ID, "method": methodRespondHB})
	case methodSubscribe:
		var result orderUpdateResult
		if err := json.Unmarshal(env.Result, &result); err != nil {
			c.log.Warn("user feed: malformed subscribe result", utils.Err(err))
			return
		}
		if result.Channel != channelUserOrder {
			return
		}
		for _, dto := range result.Data {
			state, err := toOrderState(result.InstrumentName, dto)
			if err != nil {
				c.log.Warn("user feed: malformed order update", utils.Err(err))
				continue
			}
			c.updates.Publish(state)
		}
	}
}

func toOrderState(instrumentName string, dto orderUpdateDTO) (models.OrderState, error) {
	cumQty, err := decimalOrZero(dto.CumulativeQuantity)
	if err != nil {
		return models.OrderState{}, err
	}
	cumVal, err := decimalOrZero(dto.CumulativeValue)
	if err != nil {
		return models.OrderState{}, err
	}
	avgPrice, err := decimalOrZero(dto.AvgPrice)
	if err != nil {
		return models.OrderState{}, err
	}
	return models.OrderState{
		OrderID:            dto.OrderID,
		InstrumentName:     instrumentName,
		Status:             models.OrderStatus(dto.Status),
		CumulativeQuantity: cumQty,
		CumulativeValue:    cumVal,
		AvgPrice:           avgPrice,
		RejectCode:         dto.RejectCode,
		RejectMessage:      dto.RejectReason,
	}, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// CreateOrder отправляет private/create-order и возвращает назначенный id
// запроса. Клиент этот id не хранит, и Исполнитель его не использует:
// обновления ордера он отбирает по instrument_name.
func (c *Client) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (int64, error) {
	id := c.nextID()
	nonce := c.nextNonce()

	params := map[string]interface{}{
		"instrument_name": req.InstrumentName,
		"side":            string(req.Side),
		"type":            models.OrderType,
		"price":           req.Price.String(),
		"quantity":        req.Quantity.String(),
	}
	if req.TimeInForce != "" {
		params["time_in_force"] = string(req.TimeInForce)
	}

	sig := sign(c.cfg.SecretKey, methodCreateOrder, id, c.cfg.APIKey, params, nonce)
	msg := createOrderRequest{ID: id, Method: methodCreateOrder, Nonce: nonce, Params: params, Sig: sig}

	if err := c.conn.Send(msg); err != nil {
		return 0, models.WrapKindError(models.ErrorKindTransport, "create-order", err)
	}
	return id, nil
}

// CancelAll отправляет private/cancel-all-orders для инструмента.
func (c *Client) CancelAll(ctx context.Context, instrumentName string) error {
	id := c.nextID()
	nonce := c.nextNonce()

	params := map[string]interface{}{"instrument_name": instrumentName}
	sig := sign(c.cfg.SecretKey, methodCancelAll, id, c.cfg.APIKey, params, nonce)
	msg := cancelAllRequest{ID: id, Method: methodCancelAll, Nonce: nonce, Params: params, Sig: sig}

	if err := c.conn.Send(msg); err != nil {
		return models.WrapKindError(models.ErrorKindTransport, "cancel-all-orders", err)
	}
	return nil
}
