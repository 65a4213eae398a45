package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/service"
	logctx "github.com/pribylovaa/apparel-admin/pkg/log"
)

// Recover перехватывает panic, конвертирует в 500/internal и пишет унифицированный ответ.
// Детали паники и стек — только в лог. Если ответ уже начат (например, поток
// событий), тело ошибки не пишется: соединение просто закрывается.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logctx.From(r.Context()).
					LogAttrs(r.Context(), slog.LevelError, "panic",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", r.Header.Get("X-Request-Id")),
						slog.Any("reason", rec),
						slog.String("stack", string(debug.Stack())),
					)

				if sw.status != 0 {
					panic(http.ErrAbortHandler)
				}
				apierrors.WriteError(sw, r, service.ErrInternal)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
