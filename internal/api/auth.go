package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"
)

// SecretAuth admits requests carrying "Authorization: Bearer <secret>". A client that fails
// maxFailures times within window is refused with 429 until the window expires.
func SecretAuth(secret string, maxFailures int, window time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	failures := goCache.New(window, 2*window)
	want := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			if n, ok := failures.Get(client); ok && n.(int) >= maxFailures {
				log.Warn("too many failed auth attempts.", slog.String("client", client))
				w.Header().Set("Retry-After", retryAfter(failures, client))
				writeError(w, log, newAppError(http.StatusTooManyRequests, "too_many_attempts",
					"too many failed authentication attempts"))
				return
			}

			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || len(want) == 0 || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				if err := failures.Add(client, 1, goCache.DefaultExpiration); err != nil {
					_, _ = failures.IncrementInt(client, 1)
				}
				log.Debug("unauthorized request.", slog.String("client", client), slog.String("path", r.URL.Path))
				writeError(w, log, newAppError(http.StatusUnauthorized, "unauthorized", "missing or invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type peerKey struct{}

// rememberPeer stores the connection's remote address before RealIP replaces it with a
// client-supplied header value.
func rememberPeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), peerKey{}, r.RemoteAddr)))
	})
}

// clientKey identifies the failing client by its TCP peer. Forwarding headers are ignored
// so a client cannot reset its own failure count.
func clientKey(r *http.Request) string {
	addr, ok := r.Context().Value(peerKey{}).(string)
	if !ok {
		addr = r.RemoteAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func retryAfter(failures *goCache.Cache, client string) string {
	_, expires, ok := failures.GetWithExpiration(client)
	if !ok || expires.IsZero() {
		return "60"
	}
	seconds := int(time.Until(expires).Seconds()) + 1
	return strconv.Itoa(max(seconds, 1))
}
