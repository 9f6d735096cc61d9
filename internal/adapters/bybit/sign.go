package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// authExpiryWindow is how far in the future the signed auth payload expires.
const authExpiryWindow = 5 * time.Second

// signHMACSHA256 computes the hex-encoded HMAC-SHA256 of payload under secret.
func signHMACSHA256(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// authArgs builds the args of a websocket auth request: api key, expiry in
// unix milliseconds, and the signature over "GET/realtime{expires}".
func authArgs(apiKey, secret string, now time.Time) []string {
	expires := now.Add(authExpiryWindow).UnixMilli()
	expiresStr := strconv.FormatInt(expires, 10)
	signature := signHMACSHA256(secret, "GET/realtime"+expiresStr)
	return []string{apiKey, expiresStr, signature}
}
