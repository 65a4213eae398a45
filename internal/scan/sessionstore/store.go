// Package sessionstore — хранилища scan-сессий (ключ — id клиента).
//
// Реализации:
//   - Memory — в памяти процесса (тесты, один узел);
//   - Badger — встроенная БД на диске, переживает перезапуск;
//   - Redis — общее хранилище для нескольких узлов.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pribylovaa/apparel-admin/internal/config"
)

// ErrNotFound — у клиента нет сессии (или она истекла).
var ErrNotFound = errors.New("session not found")

// keyPrefix — префикс ключей сессий.
const keyPrefix = "scan:session:"

// Session — активная scan-сессия клиента.
type Session struct {
	PickupCode   string    `json:"pickup_code"`
	ExhibitionID string    `json:"exhibition_id"`
	StartTime    time.Time `json:"start_time"`
}

func key(clientID string) string { return keyPrefix + clientID }

func encode(s Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Open создаёт хранилище по драйверу из конфига.
func Open(cfg config.ScanConfig) (Store, error) {
	switch cfg.SessionDriver {
	case config.SessionDriverMemory, "":
		return NewMemory(), nil
	case config.SessionDriverBadger:
		return NewBadger(cfg.BadgerPath)
	case config.SessionDriverRedis:
		return NewRedis(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.SessionDriver)
	}
}
