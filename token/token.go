// Package token derives and verifies order confirmation tokens. A token is
// the lowercase-hex HMAC-SHA256 of the order id under the deployment secret;
// verification recomputes it, there is no token store. Rotating the secret
// invalidates every outstanding link.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func Sign(orderID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the supplied token in constant time.
func Verify(orderID, supplied, secret string) bool {
	expected := Sign(orderID, secret)
	return hmac.Equal([]byte(expected), []byte(supplied))
}
