// Package forge talks to the source-hosting service the controller
// registers runners against: minting one-shot registration tokens and
// verifying inbound webhook signatures.
package forge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPClient is a shared client with timeouts for all outbound forge
// calls.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	},
}

// sha256HexSize is the length of a hex-encoded SHA-256 digest.
const sha256HexSize = 64

// sha256Prefix is the literal prefix a valid signature header carries.
const sha256Prefix = "sha256="

// RunnerTarballURL pins the forge's Linux/x86-64 runner agent release
// used by step 5 of the bootstrap sequence.
const RunnerTarballURL = "https://github.com/actions/runner/releases/download/v2.319.1/actions-runner-linux-x64-2.319.1.tar.gz"

// ErrTokenRequestFailed reports that the forge refused or could not
// fulfil a registration-token request.
type ErrTokenRequestFailed struct {
	Cause error
}

func (e *ErrTokenRequestFailed) Error() string {
	return fmt.Sprintf("forge: token request failed: %v", e.Cause)
}

func (e *ErrTokenRequestFailed) Unwrap() error { return e.Cause }

// RequestRegistrationToken requests a one-shot runner-registration
// token for owner/repo, authenticating with apiToken as a plain bearer
// credential (no GitHub App installation flow: the forge account model
// here carries one opaque token per repository).
func RequestRegistrationToken(owner, repo, apiToken string) (string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/actions/runners/registration-token", owner, repo)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return "", &ErrTokenRequestFailed{Cause: err}
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "Token "+apiToken)
	req.Header.Set("User-Agent", "octoling")

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return "", &ErrTokenRequestFailed{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", &ErrTokenRequestFailed{Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var result struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ErrTokenRequestFailed{Cause: err}
	}
	if result.Token == "" {
		return "", &ErrTokenRequestFailed{Cause: fmt.Errorf("empty token in response")}
	}
	return result.Token, nil
}

// ParseSignatureHeader validates the X-Hub-Signature-256 header shape
// and returns the decoded 32-byte digest. Reports ok=false for any
// header that does not have the literal "sha256=" prefix followed by
// exactly 64 hex characters, or whose hex is malformed.
func ParseSignatureHeader(header string) (digest []byte, ok bool) {
	if !strings.HasPrefix(header, sha256Prefix) {
		return nil, false
	}
	hexPart := header[len(sha256Prefix):]
	if len(hexPart) != sha256HexSize {
		return nil, false
	}
	decoded, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// VerifyDigest reports whether HMAC-SHA256(secret, body) equals the
// provided digest, compared in constant time.
func VerifyDigest(secret []byte, body []byte, digest []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, digest)
}

