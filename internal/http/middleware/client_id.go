package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	logctx "github.com/pribylovaa/apparel-admin/pkg/log"
)

// ClientCookie — cookie с идентификатором устройства (ключ scan-сессии).
const ClientCookie = "apparel_client"

const clientCookieTTL = 365 * 24 * time.Hour

// ClientID обеспечивает стабильный идентификатор устройства:
// заголовок X-Client-Id, иначе cookie, иначе новый uuid (с выставлением cookie).
func ClientID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Client-Id")
			issued := false

			if id == "" {
				if c, err := r.Cookie(ClientCookie); err == nil {
					id = c.Value
				}
			}

			if id == "" {
				id = uuid.NewString()
				issued = true
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    id,
					Path:     "/",
					Expires:  time.Now().Add(clientCookieTTL),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), clientIDKey, id)
			ctx = context.WithValue(ctx, clientIssuedKey, issued)
			ctx = logctx.With(ctx, "client_id", id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFrom возвращает идентификатор устройства из контекста или "".
func ClientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// clientIssued — идентификатор выдан этим же запросом (у клиента его ещё не было).
func clientIssued(ctx context.Context) bool {
	issued, _ := ctx.Value(clientIssuedKey).(bool)
	return issued
}
