package middleware

import (
	"net"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/ratelimit"
	logctx "github.com/pribylovaa/apparel-admin/pkg/log"
)

// RateLimitOptions — лимиты scan-эндпоинтов.
//   - PerIP — общий бюджет адреса; ограничивает и клиентов, меняющих свой id;
//   - PerClient — бюджет устройства. Ключ — адрес плюс id; только что выданный
//     id ключом не считается, такой запрос учитывается по адресу;
//   - TrustProxy — брать адрес из X-Forwarded-For/X-Real-IP (сервис за прокси).
//
// nil-лимитер пропускается.
type RateLimitOptions struct {
	PerClient  *ratelimit.Keyed
	PerIP      *ratelimit.Keyed
	TrustProxy bool
}

// RateLimit ограничивает частоту запросов по адресу и по устройству (см. ClientID).
// Превышение — 429/rate_limited.
func RateLimit(opts RateLimitOptions) Middleware {
	return func(next http.Handler) http.Handler {
		if opts.PerClient == nil && opts.PerIP == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, opts.TrustProxy)

			if opts.PerIP != nil && !opts.PerIP.Allow(ip) {
				reject(w, r, "ip", ip)
				return
			}

			if opts.PerClient != nil {
				key := "ip:" + ip
				if id := ClientIDFrom(r.Context()); id != "" && !clientIssued(r.Context()) {
					key = ip + "|" + id
				}

				if !opts.PerClient.Allow(key) {
					reject(w, r, "client", key)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, scope, key string) {
	logctx.From(r.Context()).Warn("rate limit exceeded", "scope", scope, "key", key, "path", r.URL.Path)
	apierrors.WriteError(w, r, apierrors.ErrRateLimited)
}

// clientIP — адрес клиента: RemoteAddr без порта.
// С trustProxy сначала последний адрес X-Forwarded-For (его дописал
// доверенный прокси, более ранние присылает сам клиент), затем X-Real-IP.
func clientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteHost(r)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(xff[strings.LastIndex(xff, ",")+1:]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
