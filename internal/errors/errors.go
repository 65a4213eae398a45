// errors стандартизирует ответы об ошибках HTTP-слоя apparel-admin.
// На вход он принимает ошибку сервисного слоя (sentinel-ошибки service/scan),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей;
//   - поля с ошибками валидации, если они есть.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/pribylovaa/apparel-admin/internal/scan"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Ошибки транспортного уровня (не доходят до сервисов).
var (
	// ErrBadRequest — не разобрать тело/параметры запроса.
	ErrBadRequest = stderrors.New("bad request")
	// ErrUnauthenticated — нет или невалиден bearer-токен.
	ErrUnauthenticated = stderrors.New("unauthenticated")
	// ErrRateLimited — превышена частота запросов клиента.
	ErrRateLimited = stderrors.New("rate limited")
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
// Fields — json-имя поля -> причина (только для ошибок валидации).
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку сервисного слоя в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil - это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг.
//   - *service.ValidationError - 400 с перечнем полей.
//   - прочее - маппинг по sentinel-ошибкам через base().
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{
			Error: APIError{
				Code:    "internal",
				Message: "internal error",
			},
		}
	}

	httpStatus, code, msg := base(err)
	resp := ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}

	var verr *service.ValidationError
	if stderrors.As(err, &verr) && len(verr.Fields) > 0 {
		resp.Error.Fields = verr.Fields
	}

	return httpStatus, resp
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// base — маппинг sentinel-ошибки -> HTTP/FE-код/сообщение.
//   - ErrInvalidArgument, ErrInvalidCursor, битый запрос -> 400
//   - ErrUnauthenticated -> 401
//   - ErrNotFound -> 404
//   - ErrCodeInUse -> 409/code_in_use (явный код подборки занят)
//   - ErrConflict, ErrExhibitionMismatch -> 409
//   - ErrNoSession -> 412 (нет активной scan-сессии)
//   - ErrRateLimited -> 429
//   - context.Canceled -> 499 (клиент закрыл соединение)
//   - ErrUnavailable -> 503
//   - context.DeadlineExceeded -> 504
//   - прочее -> 500/internal
//
// ErrCodeInUse проверяется раньше ErrConflict: FE различает их по коду.
func base(err error) (int, string, string) {
	switch {
	case stderrors.Is(err, service.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid_cursor", "invalid cursor"
	case stderrors.Is(err, service.ErrInvalidArgument),
		stderrors.Is(err, scan.ErrInvalidArgument),
		stderrors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case stderrors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "unauthenticated"
	case stderrors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case stderrors.Is(err, service.ErrCodeInUse):
		return http.StatusConflict, "code_in_use", "pickup code already in use"
	case stderrors.Is(err, scan.ErrExhibitionMismatch):
		return http.StatusConflict, "exhibition_mismatch", "item belongs to another exhibition"
	case stderrors.Is(err, service.ErrConflict):
		return http.StatusConflict, "conflict", "conflict"
	case stderrors.Is(err, scan.ErrNoSession):
		return http.StatusPreconditionFailed, "no_session", "no active scan session"
	case stderrors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"
	case stderrors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	case stderrors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "service unavailable"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
