package daemon

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
)

// tokenGuard enforces the optional API bearer token. A zero guard lets every
// request through.
type tokenGuard struct {
	token []byte
}

func newTokenGuard(token string) tokenGuard {
	return tokenGuard{token: []byte(strings.TrimSpace(token))}
}

func (g tokenGuard) protect(next http.HandlerFunc) http.HandlerFunc {
	if len(g.token) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allows(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="trackrelay"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"unauthorized"}`+"\n")
			return
		}
		next(w, r)
	}
}

func (g tokenGuard) allows(r *http.Request) bool {
	scheme, presented, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), g.token) == 1
}
