// Package verify implements the webhook handshake and payload signature checks.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	ModeSubscribe   = "subscribe"
	SignatureHeader = "X-Hub-Signature-256"
)

var ErrRejected = errors.New("webhook verification rejected")

// Gate answers the provider's subscription handshake. It is stateless and
// safe for concurrent use.
type Gate struct {
	token string
}

func NewGate(verifyToken string) *Gate {
	return &Gate{token: verifyToken}
}

// Verify returns challenge unchanged when mode is "subscribe" and token
// matches the configured secret. An unset secret rejects everything.
func (g *Gate) Verify(mode, challenge, token string) (string, error) {
	if mode != ModeSubscribe || g.token == "" {
		return "", ErrRejected
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return "", ErrRejected
	}
	return challenge, nil
}

// Signer validates X-Hub-Signature-256 headers. A Signer with no secret
// accepts every body.
type Signer struct {
	secret []byte
}

func NewSigner(appSecret string) *Signer {
	return &Signer{secret: []byte(appSecret)}
}

func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// Check validates header against an HMAC-SHA256 of body.
func (s *Signer) Check(body []byte, header string) error {
	if !s.Enabled() {
		return nil
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return ErrRejected
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrRejected
	}
	if !hmac.Equal(got, s.sum(body)) {
		return ErrRejected
	}
	return nil
}

// Sign returns the header value for body.
func (s *Signer) Sign(body []byte) string {
	return "sha256=" + hex.EncodeToString(s.sum(body))
}

func (s *Signer) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
