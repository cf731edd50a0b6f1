package userfeed

import "encoding/json"

// envelope - общая форма всех сообщений, приходящих по User Feed.
// Диспетчеризация идёт по полю Method, как и на Market Feed
// (tagged-variant union, spec §9 "Dynamic dispatch / tagged responses").
type envelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Code   json.Number     `json:"code"`
	Result json.RawMessage `json:"result"`
}

// ok reports whether a request-response envelope indicates success - the
// code is either absent or 0 on success; any other value is an error code.
func (e envelope) ok() bool {
	return e.Code == "" || e.Code == "0"
}

type orderUpdateResult struct {
	Channel        string           `json:"channel"`
	InstrumentName string           `json:"instrument_name"`
	Data           []orderUpdateDTO `json:"data"`
}

type orderUpdateDTO struct {
	OrderID            string `json:"order_id"`
	Status             string `json:"status"`
	CumulativeQuantity string `json:"cumulative_quantity"`
	CumulativeValue    string `json:"cumulative_value"`
	AvgPrice           string `json:"avg_price"`
	RejectCode         string `json:"reject_code"`
	RejectReason       string `json:"reject_reason"`
}

type authRequest struct {
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	APIKey  string `json:"api_key"`
	Sig     string `json:"sig"`
	Nonce   int64  `json:"nonce"`
}

type subscribeRequest struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	Nonce  int64                  `json:"nonce"`
	Params map[string]interface{} `json:"params"`
}

type createOrderRequest struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	Nonce  int64                  `json:"nonce"`
	Params map[string]interface{} `json:"params"`
	Sig    string                 `json:"sig"`
}

type cancelAllRequest struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	Nonce  int64                  `json:"nonce"`
	Params map[string]interface{} `json:"params"`
	Sig    string                 `json:"sig"`
}

const (
	methodAuth           = "public/auth"
	methodSubscribe      = "subscribe"
	methodCreateOrder    = "private/create-order"
	methodCancelAll      = "private/cancel-all-orders"
	methodRespondHB      = "public/respond-heartbeat"
	methodHeartbeat      = "public/heartbeat"
	channelUserOrder     = "user.order"
)
