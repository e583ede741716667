// Package restvenue is a live venue.Port implementation for a generic
// REST+WebSocket perpetual-futures exchange: HMAC-SHA256-signed requests and
// a gorilla/websocket streaming client for L1 updates. The HMAC request
// signing is adapted from 0xtitan6-polymarket-mm/internal/exchange/auth.go's
// L2 ("timestamp+method+path[+body]") scheme, which is itself the common
// shape every CEX-style REST API in the reference pack uses — kept here
// without that file's EIP-712 L1 derivation, which is Polymarket-specific
// and has no home in a perp-futures venue (see DESIGN.md).
package restvenue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer produces the HMAC-SHA256 signature a venue's private REST
// endpoints require.
type Signer struct {
	apiKey    string
	apiSecret []byte
}

// NewSigner builds a Signer from a venue's API key/secret pair.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: []byte(apiSecret)}
}

// Sign returns (timestamp, signature) for method+path+body, following the
// "timestamp + method + path [+ body]" message shape.
func (s *Signer) Sign(method, path, body string) (timestamp, signature string) {
	timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, s.apiSecret)
	mac.Write([]byte(message))
	signature = hex.EncodeToString(mac.Sum(nil))
	return timestamp, signature
}

// APIKey exposes the key for the request header; the secret never leaves
// Signer.
func (s *Signer) APIKey() string { return s.apiKey }
