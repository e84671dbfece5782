package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestParseSignatureHeader_ValidFormat(t *testing.T) {
	digest, ok := ParseSignatureHeader("sha256=" + strings.Repeat("a", 64))
	if !ok {
		t.Fatalf("expected a well-formed header to parse")
	}
	if len(digest) != 32 {
		t.Fatalf("expected a 32-byte digest, got %d", len(digest))
	}
}

func TestParseSignatureHeader_WrongLength(t *testing.T) {
	if _, ok := ParseSignatureHeader("sha256=" + strings.Repeat("a", 63)); ok {
		t.Fatalf("expected a 63-hex-char digest to be rejected")
	}
	if _, ok := ParseSignatureHeader("sha256=" + strings.Repeat("a", 65)); ok {
		t.Fatalf("expected a 65-hex-char digest to be rejected")
	}
}

func TestParseSignatureHeader_MissingPrefix(t *testing.T) {
	if _, ok := ParseSignatureHeader(strings.Repeat("a", 64)); ok {
		t.Fatalf("expected a header without sha256= to be rejected")
	}
}

func TestParseSignatureHeader_MalformedHex(t *testing.T) {
	if _, ok := ParseSignatureHeader("sha256=" + strings.Repeat("z", 64)); ok {
		t.Fatalf("expected non-hex characters to be rejected")
	}
}

func TestVerifyDigest_RoundTrip(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !VerifyDigest(secret, body, expected) {
		t.Fatalf("expected matching HMAC to verify")
	}
	if VerifyDigest(secret, body, []byte(hex.EncodeToString(expected))) {
		t.Fatalf("expected a hex-encoded (wrong length) digest to fail verification")
	}

	wrongSecret := []byte("nope")
	if VerifyDigest(wrongSecret, body, expected) {
		t.Fatalf("expected a digest computed under a different secret to fail")
	}
}
