// Package service содержит бизнес-логику apparel-admin:
// каталоги мастер-данных, подборки, выставки и выдачи образцов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/export"
	"github.com/pribylovaa/apparel-admin/internal/imaging"
	"github.com/pribylovaa/apparel-admin/internal/search"
	"github.com/pribylovaa/apparel-admin/internal/storage"
)

var (
	// ErrInvalidArgument — неверные входные параметры (см. ValidationError).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound — сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrCodeInUse — явно заданный код подборки уже занят.
	ErrCodeInUse = errors.New("code already in use")
	// ErrConflict — конфликт состояния (уникальность, повторный возврат, образец уже выдан).
	ErrConflict = errors.New("conflict")
	// ErrInvalidCursor — битый/чужой курсор.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrUnavailable — хранилище недоступно; автоматических повторов нет.
	ErrUnavailable = errors.New("unavailable")
	// ErrInternal — прочие ошибки.
	ErrInternal = errors.New("internal")
)

// ValidationError — ошибка валидации с привязкой к полям (json-имена).
// Всегда оборачивает ErrInvalidArgument.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}

	return "invalid argument: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// invalid — ошибка валидации одного поля.
func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ImageProcessor готовит загружаемые изображения.
type ImageProcessor interface {
	Process(data []byte) (*imaging.Result, error)
}

// Indexer — полнотекстовый индекс мастер-данных.
type Indexer interface {
	Put(d search.Document) error
	Remove(kind, id string) error
	Reindex(docs []search.Document) error
	Search(ctx context.Context, kind, text string, limit int) ([]search.Hit, error)
}

// Exporter строит PDF-документ из карточек.
type Exporter interface {
	Export(ctx context.Context, doc export.Document) (*export.Result, error)
}

// Deps — общие зависимости сервисов.
// Index и Exporter опциональны; Clock по умолчанию time.Now.
type Deps struct {
	Docs      storage.Documents
	Objects   storage.Objects
	Images    ImageProcessor
	Index     Indexer
	Exporter  Exporter
	Validator *Validator
	Limits    config.LimitsConfig
	Clock     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

// fromStorage переводит ошибку хранилища в сервисную, логируя по уровню серьёзности.
func fromStorage(lg *slog.Logger, op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		lg.Warn("not found")
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrInvalidCursor):
		lg.Warn("invalid cursor")
		return fmt.Errorf("%s: %w", op, ErrInvalidCursor)
	case errors.Is(err, storage.ErrConflict):
		lg.Warn("conflict")
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, storage.ErrUnavailable):
		lg.Error("storage unavailable", "err", err)
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	default:
		lg.Error("storage error", "err", err)
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}
}

type actorKey struct{}

// WithActor кладёт в контекст идентификатор пользователя (subject identity-провайдера).
func WithActor(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, actorKey{}, subject)
}

// Actor возвращает subject из контекста или "".
func Actor(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
