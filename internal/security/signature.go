package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of a Cloud API webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// maxWebhookBodyBytes bounds webhook payloads.
const maxWebhookBodyBytes = 1 << 20

// VerifySignature reads the request body and checks it against the
// "sha256=<hex>" signature header. The body is restored on r so handlers can
// decode it again. An empty secret disables the check.
func VerifySignature(r *http.Request, secret string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if secret == "" {
		return body, nil
	}

	header := r.Header.Get(SignatureHeader)
	if header == "" {
		return nil, fmt.Errorf("missing signature header: %s", SignatureHeader)
	}

	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", SignatureHeader)
	}

	if !hmac.Equal([]byte(Sign(body, secret)), []byte(strings.ToLower(parts[1]))) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
