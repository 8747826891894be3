package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 signature of payload. The header may carry
// a hex digest, a base64 digest, or a comma separated list of either, each
// optionally prefixed with "sha256=" or "v1=". An empty secret never verifies.
func VerifySignature(secret []byte, payload []byte, header string) bool {
	if len(secret) == 0 {
		return false
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Split(header, ",") {
		provided := decodeDigest(candidate)
		if provided != nil && hmac.Equal(provided, expected) {
			return true
		}
	}
	return false
}

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(secret []byte, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeDigest(raw string) []byte {
	value := strings.TrimSpace(raw)
	if idx := strings.Index(value, "="); idx > 0 && idx < len(value)-1 {
		switch strings.ToLower(value[:idx]) {
		case "sha256", "v1":
			value = value[idx+1:]
		}
	}
	if len(value) == sha256.Size*2 {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded
	}
	return nil
}
