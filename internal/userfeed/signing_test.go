package userfeed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeParams_SortsKeys(t *testing.T) {
	out := canonicalizeParams(map[string]interface{}{
		"side":            "BUY",
		"instrument_name": "BTC_USDT",
	})
	require.Equal(t, "instrument_nameBTC_USDTsideBUY", out)
}

func TestCanonicalizeParams_FlattensArrays(t *testing.T) {
	out := canonicalizeParams(map[string]interface{}{
		"channels": []interface{}{"user.order", "ticker.BTC_USDT"},
	})
	require.Equal(t, "channels0user.orderchannels1ticker.BTC_USDT", out)
}

func TestSign_IsDeterministic(t *testing.T) {
	params := map[string]interface{}{"instrument_name": "BTC_USDT", "side": "BUY"}
	s1 := sign("secret", "private/create-order", 1, "key", params, 42)
	s2 := sign("secret", "private/create-order", 1, "key", params, 42)
	require.Equal(t, s1, s2)
	require.Len(t, s1, 64, "hex-encoded sha256 digest must be 64 chars")
}

func TestSign_DifferentNonceDifferentSignature(t *testing.T) {
	params := map[string]interface{}{"instrument_name": "BTC_USDT"}
	s1 := sign("secret", "private/create-order", 1, "key", params, 42)
	s2 := sign("secret", "private/create-order", 1, "key", params, 43)
	require.NotEqual(t, s1, s2)
}

func TestSignAuth_MatchesManualConstruction(t *testing.T) {
	s := signAuth("secret", "public/auth", 7, "key", 100)
	require.Len(t, s, 64)

	h := hmac.New(sha256.New, []byte("secret"))
	h.Write([]byte("public/auth7key100"))
	require.Equal(t, hex.EncodeToString(h.Sum(nil)), s)
}
