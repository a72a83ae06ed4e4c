package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-GenGenie-Signature"
	TimestampHeader = "X-GenGenie-Timestamp"

	signaturePrefix = "sha256="
)

var ErrBadSignature = errors.New("invalid callback signature")

// SignCallback returns the signature header value for a callback about jobID:
// sha256=hex(HMAC(secret, timestamp + "." + jobID + "." + body)).
// The job id is signed so a callback cannot be replayed against another job.
func SignCallback(secret, timestamp, jobID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(jobID))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks the signature and that the unix timestamp is within
// maxSkew of now.
func VerifyCallback(secret, timestamp, jobID, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if secret == "" || timestamp == "" || jobID == "" || !strings.HasPrefix(signature, signaturePrefix) {
		return ErrBadSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if d := now.Sub(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
		return ErrBadSignature
	}
	want := SignCallback(secret, timestamp, jobID, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
