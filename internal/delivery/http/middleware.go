package httpd

import (
	// Go Internal Packages
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"
)

type SigConfig struct {
	Secret        string
	MaxAgeSeconds int64
}

// Sign returns the hex HMAC-SHA256 of body + "." + ts, the value expected in
// X-Signature.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("." + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

func SignatureMiddleware(cfg SigConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				ts := r.Header.Get("X-Timestamp")
				sig := r.Header.Get("X-Signature")

				if ts == "" || sig == "" {
					writeError(w, http.StatusUnauthorized, "missing signature headers")
					return
				}

				tsInt, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "invalid timestamp")
					return
				}

				age := time.Now().Unix() - tsInt
				if cfg.MaxAgeSeconds > 0 && (age > cfg.MaxAgeSeconds || -age > cfg.MaxAgeSeconds) {
					writeError(w, http.StatusUnauthorized, "signature expired")
					return
				}

				bodyBytes, err := io.ReadAll(r.Body)
				if err != nil {
					writeError(w, http.StatusBadRequest, "read body error")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

				expected := Sign(cfg.Secret, bodyBytes, ts)
				if !hmac.Equal([]byte(expected), []byte(sig)) {
					writeError(w, http.StatusUnauthorized, "invalid signature")
					return
				}
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
