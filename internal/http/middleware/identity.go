package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/service"
	logctx "github.com/pribylovaa/apparel-admin/pkg/log"
	"github.com/pribylovaa/apparel-admin/pkg/redact"
)

// ErrInvalidToken — токен не прошёл проверку подписи/срока/issuer.
var ErrInvalidToken = errors.New("invalid token")

// Identity проверяет Bearer-токен внешнего identity-провайдера (HS256)
// и кладёт его subject в контекст (service.WithActor).
// Пустой secret отключает проверку: запрос проходит без actor.
func Identity(secret, issuer string) Middleware {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r)
			if !ok {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			subject, err := verify(token, secret, issuer)
			if err != nil {
				logctx.From(r.Context()).Warn("identity token rejected", "token", redact.Token(token), "err", err)
				apierrors.WriteError(w, r, fmt.Errorf("%w: %v", apierrors.ErrUnauthenticated, err))
				return
			}

			ctx := service.WithActor(r.Context(), subject)
			ctx = logctx.With(ctx, "actor", subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessTokenParam — query-параметр с токеном для клиентов без заголовков (EventSource).
const AccessTokenParam = "access_token"

// TokenFromQuery переносит ?access_token= в заголовок Authorization, если его нет,
// и убирает параметр из URL. Ставится перед Identity только на маршрутах потоков.
func TokenFromQuery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			token := strings.TrimSpace(q.Get(AccessTokenParam))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			r = r.Clone(r.Context())
			q.Del(AccessTokenParam)
			r.URL.RawQuery = q.Encode()
			if r.Header.Get("Authorization") == "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearer извлекает токен из заголовка Authorization.
func bearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}

	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// verify проверяет подпись и стандартные claims, возвращает subject.
func verify(token, secret, issuer string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
