package sessionstore

import (
	"context"
	"time"
)

// Store — минимальный контракт хранилища сессий.
type Store interface {
	// Get возвращает сессию клиента или ErrNotFound.
	Get(ctx context.Context, clientID string) (*Session, error)
	// Put сохраняет (заменяет) сессию с TTL; ttl <= 0 — без истечения.
	Put(ctx context.Context, clientID string, s Session, ttl time.Duration) error
	// Delete удаляет сессию; отсутствие — не ошибка.
	Delete(ctx context.Context, clientID string) error
	// Close освобождает ресурсы.
	Close() error
}
