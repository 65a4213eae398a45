package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pribylovaa/apparel-admin/internal/storage"
)

// DefaultBaseURL — префикс публичных URL объектов в памяти.
const DefaultBaseURL = "memory://objects/"

type object struct {
	data        []byte
	contentType string
}

// Objects — объектное хранилище в памяти.
type Objects struct {
	mu      sync.RWMutex
	baseURL string
	objs    map[string]object
}

// NewObjects создаёт пустое хранилище; пустой baseURL — DefaultBaseURL.
func NewObjects(baseURL string) *Objects {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Objects{baseURL: baseURL, objs: make(map[string]object)}
}

// Upload сохраняет копию данных.
func (o *Objects) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	const op = "storage/memory/Upload"

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", fmt.Errorf("%s: empty path", op)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	o.mu.Lock()
	o.objs[path] = object{data: buf, contentType: contentType}
	o.mu.Unlock()

	return o.baseURL + path, nil
}

// Delete удаляет объект; отсутствие объекта — не ошибка.
func (o *Objects) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage/memory/Delete: %w", storage.ErrUnavailable)
	}

	o.mu.Lock()
	delete(o.objs, strings.TrimPrefix(path, "/"))
	o.mu.Unlock()

	return nil
}

// List возвращает отсортированные пути с префиксом.
func (o *Objects) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage/memory/List: %w", storage.ErrUnavailable)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []string
	for p := range o.objs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)

	return out, nil
}

// Fetch возвращает объект по URL, выданному Upload.
func (o *Objects) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	const op = "storage/memory/Fetch"

	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	path, ok := strings.CutPrefix(url, o.baseURL)
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	o.mu.RLock()
	obj, ok := o.objs[path]
	o.mu.RUnlock()

	if !ok {
		return nil, "", fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)

	return buf, obj.contentType, nil
}
