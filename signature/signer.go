// Package signature implements the HMAC-SHA256 payload authentication used on
// outbound webhook deliveries. The signer is deterministic: the same payload
// and secret always produce the same signature, so receivers can verify with
// a plain recomputation.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

var ErrSignatureMismatch = errors.New("signature: verification failed")

const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"

	// PrefixSHA256 is the common "sha256=" convention. Receivers that expect
	// it can opt in; signatures are bare digests by default.
	PrefixSHA256 = "sha256="
)

// HMACSigner signs and verifies payloads with HMAC-SHA256. The zero value
// signs bare hex-encoded digests.
type HMACSigner struct {
	Prefix   string
	Encoding string // hex | base64
}

func NewHMACSigner() HMACSigner {
	return HMACSigner{Encoding: EncodingHex}
}

func (s HMACSigner) Sign(payload []byte, secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("signature: secret is required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	digest := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case EncodingBase64:
		return s.Prefix + base64.StdEncoding.EncodeToString(digest), nil
	default:
		return s.Prefix + hex.EncodeToString(digest), nil
	}
}

func (s HMACSigner) Verify(payload []byte, secret, signature string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("signature: secret is required")
	}
	signature = strings.TrimSpace(signature)
	if s.Prefix != "" {
		signature = strings.TrimPrefix(signature, s.Prefix)
	}
	if signature == "" {
		return fmt.Errorf("signature: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case EncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("signature: decode base64 signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return ErrSignatureMismatch
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("signature: decode hex signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return ErrSignatureMismatch
		}
	}
	return nil
}

var _ core.Signer = HMACSigner{}
