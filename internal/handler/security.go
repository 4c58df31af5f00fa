package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/xenking/takeout/pkg/httpmiddleware"
)

// HeaderAdminKey carries the operator API key.
const HeaderAdminKey = "X-Admin-Key"

// HashAdminKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which operator keys are configured.
func HashAdminKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// AdminAuth authenticates operators by comparing the HMAC of the presented
// key with keyHash in constant time. An empty keyHash disables the check.
func AdminAuth(keyHash string, pepper []byte) httpmiddleware.Middleware {
	if keyHash == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	stored, err := hex.DecodeString(keyHash)
	if err != nil {
		// A malformed hash never matches.
		stored = nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAdminKey)
			if key == "" {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			mac := hmac.New(sha256.New, pepper)
			mac.Write([]byte(key))
			if len(stored) == 0 || subtle.ConstantTimeCompare(mac.Sum(nil), stored) != 1 {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
