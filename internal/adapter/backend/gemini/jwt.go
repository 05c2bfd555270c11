package gemini

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	tokenIssuer   = "https://business.gemini.google"
	tokenAudience = "https://biz-discoveryengine.googleapis.com"
)

// MintToken builds the HS256 token the upstream web client produces: header
// and payload encoded with charcodeEncode, signed with the HMAC key obtained
// from the handshake. ttl is the token's own expiry (not the cache TTL).
func MintToken(key []byte, keyID, csesidx string, now time.Time, ttl time.Duration) (string, error) {
	header := struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
		Kid string `json:"kid"`
	}{"HS256", "JWT", keyID}
	iat := now.Unix()
	payload := struct {
		Iss string `json:"iss"`
		Aud string `json:"aud"`
		Sub string `json:"sub"`
		Iat int64  `json:"iat"`
		Exp int64  `json:"exp"`
		Nbf int64  `json:"nbf"`
	}{tokenIssuer, tokenAudience, "csesidx/" + csesidx, iat, iat + int64(ttl/time.Second), iat}

	hb, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("op=gemini.MintToken: header: %w", err)
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=gemini.MintToken: payload: %w", err)
	}

	message := charcodeEncode(string(hb)) + "." + charcodeEncode(string(pb))
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return message + "." + rawURLEncode(mac.Sum(nil)), nil
}

// DecodeSigningKey turns the handshake's xsrfToken into HMAC key bytes. The
// value arrives base64url without padding.
func DecodeSigningKey(xsrfToken string) ([]byte, error) {
	if pad := len(xsrfToken) % 4; pad != 0 {
		xsrfToken += "===="[pad:]
	}
	key, err := base64.URLEncoding.DecodeString(xsrfToken)
	if err != nil {
		return nil, fmt.Errorf("op=gemini.DecodeSigningKey: %w", err)
	}
	return key, nil
}

// charcodeEncode packs a string by JS charCodeAt semantics before base64url
// encoding: code points above 255 emit the low byte then the high byte.
func charcodeEncode(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		v := int(r)
		if v > 255 {
			buf = append(buf, byte(v&255), byte(v>>8))
		} else {
			buf = append(buf, byte(v))
		}
	}
	return rawURLEncode(buf)
}

func rawURLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
