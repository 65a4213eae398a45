// Package ratelimit — token bucket на ключ (клиента) поверх x/time/rate.
// Используется для scan-эндпоинтов: телефон, сканирующий QR подряд, не должен
// забивать документное хранилище.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// DefaultMaxKeys — верхняя граница числа отслеживаемых ключей по умолчанию.
const DefaultMaxKeys = 10000

// Keyed — независимый лимитер на каждый ключ.
// Ключи, не встречавшиеся дольше idleTTL, вычищаются фоновой горутиной.
// Число ключей ограничено maxKeys: новый ключ сверх лимита вытесняет
// давнее всех использованный.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	maxKeys  int
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New создаёт лимитер: rps — запросов в секунду, burst — мгновенный запас.
func New(rps float64, burst int, idleTTL time.Duration) *Keyed {
	k := &Keyed{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		maxKeys:  DefaultMaxKeys,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if idleTTL > 0 {
		go k.cleanup()
	}

	return k
}

// WithMaxKeys задаёт предел числа ключей (n <= 0 — DefaultMaxKeys).
func (k *Keyed) WithMaxKeys(n int) *Keyed {
	if n <= 0 {
		n = DefaultMaxKeys
	}

	k.mu.Lock()
	k.maxKeys = n
	k.mu.Unlock()

	return k
}

// Allow — неблокирующая проверка для входящих запросов.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	e, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= k.maxKeys {
			k.evictOldest()
		}
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.seen = k.now()
	k.mu.Unlock()

	return e.limiter.Allow()
}

// Len — число отслеживаемых ключей.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// Stop останавливает фоновую очистку.
func (k *Keyed) Stop() {
	k.stopOnce.Do(func() { close(k.done) })
}

func (k *Keyed) cleanup() {
	t := time.NewTicker(k.idleTTL)
	defer t.Stop()

	for {
		select {
		case <-k.done:
			return
		case <-t.C:
			k.evict()
		}
	}
}

// evict удаляет ключи, простаивающие дольше idleTTL.
func (k *Keyed) evict() {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-k.idleTTL)
	for key, e := range k.limiters {
		if e.seen.Before(cutoff) {
			delete(k.limiters, key)
		}
	}
}

// evictOldest удаляет ключ, который дольше всех не использовался.
// Вызывается под k.mu.
func (k *Keyed) evictOldest() {
	var (
		oldest string
		seen   time.Time
		found  bool
	)

	for key, e := range k.limiters {
		if !found || e.seen.Before(seen) {
			oldest, seen, found = key, e.seen, true
		}
	}

	if found {
		delete(k.limiters, oldest)
	}
}
