package marketfeed

import "encoding/json"

// envelope - общая форма сообщений Market Feed, диспетчеризуемая по Method
// (tagged-variant union, spec §9).
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

type tickerResult struct {
	Channel        string      `json:"channel"`
	InstrumentName string      `json:"instrument_name"`
	Data           []tickerDTO `json:"data"`
}

type tickerDTO struct {
	Bid       string `json:"b"`
	Ask       string `json:"k"`
	Timestamp int64  `json:"t"`
}

type subscribeRequest struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	Nonce  int64                  `json:"nonce"`
	Params map[string]interface{} `json:"params"`
}

const (
	methodSubscribe = "subscribe"
	methodHeartbeat = "public/heartbeat"
	methodRespondHB = "public/respond-heartbeat"
	channelTicker   = "ticker"
)

func tickerChannel(instrumentName string) string {
	return channelTicker + "." + instrumentName
}
