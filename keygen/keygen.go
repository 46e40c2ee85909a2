// Package keygen derives per-API access credentials. The upstream provider
// configures the derived key; the gateway re-derives it per request instead
// of storing it, so the datastore never holds upstream secrets.
package keygen

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/fluxapi/fluxgate"
)

// Derive computes the access credential for an API identifier under the
// operator secret: hex-encoded HMAC-SHA256. The credential is deterministic
// and never equal to the identifier itself.
func Derive(id, secret string) (string, error) {
	if id == "" || secret == "" {
		return "", fluxgate.ErrInvalidKey
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
