package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

const maxTimestampSkew = 5 * time.Minute

// SecurityEventSink records rejected signature attempts. Recording is
// fire-and-forget; a sink failure never changes the response.
type SecurityEventSink interface {
	RecordSecurityEvent(ctx context.Context, deviceHash, eventType, ip, userAgent string)
}

// VerifySignature checks the X-Signature / X-Timestamp HMAC-SHA256 over
// "<timestamp>.<body>" (the raw query string for GET requests). An
// empty secret disables verification. The body is restored so
// downstream handlers can read it again.
func VerifySignature(secret string, sink SecurityEventSink, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload := r.URL.RawQuery
			if r.Method != http.MethodGet {
				bodyBytes, err := io.ReadAll(r.Body)
				r.Body.Close()
				if err != nil {
					http.Error(w, `{"success":false,"error":"failed to read body"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				payload = string(bodyBytes)
			}

			if !signatureValid(secret, r.Header.Get("X-Signature"), r.Header.Get("X-Timestamp"), payload) {
				device := r.URL.Query().Get("hash")
				if device == "" {
					device = "unknown"
				}
				log.Warn("request signature rejected", "device", device, "path", r.URL.Path)
				if sink != nil {
					sink.RecordSecurityEvent(r.Context(), device, "bypass_attempt", clientIP(r), r.UserAgent())
				}
				http.Error(w, `{"success":false,"error":"Invalid signature"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func signatureValid(secret, sig, ts, payload string) bool {
	if sig == "" || ts == "" {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if math.Abs(time.Since(time.Unix(unix, 0)).Seconds()) > maxTimestampSkew.Seconds() {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	expectedBytes, _ := hex.DecodeString(expected)
	return hmac.Equal(sigBytes, expectedBytes)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// ClientIP exposes the forwarded-or-remote address for handlers.
func ClientIP(r *http.Request) string { return clientIP(r) }
