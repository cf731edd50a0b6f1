package userfeed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// canonicalizeParams строит params_string для подписи запроса: конкатенация
// key+value по каждому параметру в порядке ключей по алфавиту; вложенные
// массивы разворачиваются как key0value0key1value1... (spec §6).
func canonicalizeParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out string
	for _, k := range keys {
		switch val := params[k].(type) {
		case []interface{}:
			for i, item := range val {
				out += k + fmt.Sprintf("%d", i) + flattenValue(item)
			}
		case []string:
			for i, item := range val {
				out += k + fmt.Sprintf("%d", i) + item
			}
		default:
			out += k + flattenValue(val)
		}
	}
	return out
}

func flattenValue(v interface{}) string {
	switch val := v.(type) {
	case []interface{}:
		var out string
		for i, item := range val {
			out += fmt.Sprintf("%d", i) + flattenValue(item)
		}
		return out
	case []string:
		var out string
		for i, item := range val {
			out += fmt.Sprintf("%d", i) + item
		}
		return out
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// sign вычисляет HMAC-SHA256 подпись запроса: method||id||api_key||params_string||nonce.
func sign(secretKey, method string, id int64, apiKey string, params map[string]interface{}, nonce int64) string {
	payload := fmt.Sprintf("%s%d%s%s%d", method, id, apiKey, canonicalizeParams(params), nonce)
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// signAuth вычисляет подпись запроса аутентификации: HMAC_SHA256(secret,
// method+id+api_key+nonce) - auth не несёт params (spec §6).
func signAuth(secretKey, method string, id int64, apiKey string, nonce int64) string {
	payload := fmt.Sprintf("%s%d%s%d", method, id, apiKey, nonce)
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
